package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"
)

// Максимум перезапусков тела транзакции при конфликте версий.
const maxTxAttempts = 5

// ErrTxContention возвращается, когда транзакция не смогла закоммититься
// за maxTxAttempts попыток.
var ErrTxContention = errors.New("inmemory: transaction contention")

var errReadAfterWrite = errors.New("inmemory: read after write in transaction")

// record - документ в каноническом JSON плюс версия для оптимистичных
// транзакций. Версии глобально монотонны, 0 означает "документа нет".
type record struct {
	raw     []byte
	version uint64
}

// Store реализует docstore.Store в памяти. Используется в тестах и для
// локального запуска без внешней базы.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*record
	lastVersion uint64
}

// New создает пустое in-memory хранилище.
func New() *Store {
	return &Store{collections: make(map[string]map[string]*record)}
}

func (s *Store) Collection(path ...string) docstore.Collection {
	return &collection{s: s, path: strings.Join(path, "/")}
}

func (s *Store) Close() error { return nil }

// === Транзакции ===

// RunTransaction эмулирует оптимистичную транзакцию: тело читает
// документы с фиксацией их версий, записи буферизуются; коммит проходит
// только если ни один прочитанный документ не изменился, иначе тело
// перезапускается. Ошибка из тела отменяет транзакцию и возвращается
// без изменений.
func (s *Store) RunTransaction(ctx context.Context, body func(tx docstore.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memTx{s: s, reads: make(map[string]uint64)}
		if err := body(tx); err != nil {
			return err
		}

		ok, err := s.commit(tx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// конфликт версий - перезапускаем тело
	}
	return ErrTxContention
}

type txOp int

const (
	opSet txOp = iota
	opUpdate
	opDelete
)

type bufferedWrite struct {
	op      txOp
	col     string
	id      string
	raw     []byte
	updates []docstore.Update
}

type memTx struct {
	s      *Store
	reads  map[string]uint64
	writes []bufferedWrite
}

func (tx *memTx) Get(c docstore.Collection, id string) (docstore.Document, error) {
	if len(tx.writes) > 0 {
		return nil, errReadAfterWrite
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	key := docKey(c.Path(), id)
	rec := tx.s.lookup(c.Path(), id)
	if rec == nil {
		// отсутствие тоже фиксируем: документ, созданный параллельно,
		// должен инвалидировать транзакцию
		tx.reads[key] = 0
		return nil, docstore.ErrNotFound
	}
	tx.reads[key] = rec.version
	return &document{id: id, raw: rec.raw}, nil
}

func (tx *memTx) Set(c docstore.Collection, id string, data any) error {
	raw, err := canonical(data)
	if err != nil {
		return err
	}
	tx.writes = append(tx.writes, bufferedWrite{op: opSet, col: c.Path(), id: id, raw: raw})
	return nil
}

func (tx *memTx) Update(c docstore.Collection, id string, updates []docstore.Update) error {
	tx.writes = append(tx.writes, bufferedWrite{op: opUpdate, col: c.Path(), id: id, updates: updates})
	return nil
}

func (tx *memTx) Delete(c docstore.Collection, id string) error {
	tx.writes = append(tx.writes, bufferedWrite{op: opDelete, col: c.Path(), id: id})
	return nil
}

// commit атомарно применяет буфер записей, если версии всех прочитанных
// документов не изменились. Возвращает (false, nil) при конфликте.
func (s *Store) commit(tx *memTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		col, id := splitDocKey(key)
		var current uint64
		if rec := s.lookup(col, id); rec != nil {
			current = rec.version
		}
		if current != seen {
			return false, nil
		}
	}

	for _, w := range tx.writes {
		switch w.op {
		case opSet:
			s.put(w.col, w.id, w.raw)
		case opUpdate:
			rec := s.lookup(w.col, w.id)
			if rec == nil {
				return false, docstore.ErrNotFound
			}
			raw, err := docstore.ApplyUpdates(rec.raw, w.updates)
			if err != nil {
				return false, err
			}
			s.put(w.col, w.id, raw)
		case opDelete:
			if docs, ok := s.collections[w.col]; ok {
				delete(docs, w.id)
			}
		}
	}
	return true, nil
}

// === Коллекция ===

type collection struct {
	s    *Store
	path string
}

func (c *collection) Path() string { return c.path }

func (c *collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	rec := c.s.lookup(c.path, id)
	if rec == nil {
		return nil, docstore.ErrNotFound
	}
	return &document{id: id, raw: rec.raw}, nil
}

func (c *collection) GetAll(ctx context.Context, ids []string) ([]docstore.Document, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		if rec := c.s.lookup(c.path, id); rec != nil {
			docs = append(docs, &document{id: id, raw: rec.raw})
		}
	}
	return docs, nil
}

func (c *collection) All(ctx context.Context) ([]docstore.Document, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	ids := make([]string, 0, len(c.s.collections[c.path]))
	for id := range c.s.collections[c.path] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, &document{id: id, raw: c.s.collections[c.path][id].raw})
	}
	return docs, nil
}

func (c *collection) Query(ctx context.Context, field, op string, value any) ([]docstore.Document, error) {
	if op != "==" {
		return nil, fmt.Errorf("inmemory: unsupported query operator %q", op)
	}
	want, err := docstore.Normalize(value)
	if err != nil {
		return nil, err
	}

	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	var docs []docstore.Document
	for _, d := range all {
		var m map[string]any
		if err := d.DataTo(&m); err != nil {
			return nil, err
		}
		if reflect.DeepEqual(m[field], want) {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (c *collection) Set(ctx context.Context, id string, data any) error {
	raw, err := canonical(data)
	if err != nil {
		return err
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.put(c.path, id, raw)
	return nil
}

func (c *collection) Update(ctx context.Context, id string, updates []docstore.Update) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	rec := c.s.lookup(c.path, id)
	if rec == nil {
		return docstore.ErrNotFound
	}
	raw, err := docstore.ApplyUpdates(rec.raw, updates)
	if err != nil {
		return err
	}
	c.s.put(c.path, id, raw)
	return nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if docs, ok := c.s.collections[c.path]; ok {
		delete(docs, id)
	}
	return nil
}

// === Документ ===

type document struct {
	id  string
	raw []byte
}

func (d *document) ID() string   { return d.id }
func (d *document) Exists() bool { return d.raw != nil }

func (d *document) DataTo(v any) error {
	if d.raw == nil {
		return docstore.ErrNotFound
	}
	return json.Unmarshal(d.raw, v)
}

// === Внутренности ===

// lookup вызывается под блокировкой.
func (s *Store) lookup(col, id string) *record {
	docs, ok := s.collections[col]
	if !ok {
		return nil
	}
	return docs[id]
}

// put вызывается под блокировкой на запись; поднимает версию документа.
func (s *Store) put(col, id string, raw []byte) {
	docs, ok := s.collections[col]
	if !ok {
		docs = make(map[string]*record)
		s.collections[col] = docs
	}
	s.lastVersion++
	docs[id] = &record{raw: raw, version: s.lastVersion}
}

func docKey(col, id string) string { return col + "\x00" + id }

func splitDocKey(key string) (string, string) {
	i := strings.IndexByte(key, '\x00')
	return key[:i], key[i+1:]
}

// canonical переводит произвольную структуру в канонический JSON.
func canonical(data any) ([]byte, error) {
	return json.Marshal(data)
}
