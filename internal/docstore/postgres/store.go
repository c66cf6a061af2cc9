package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"
)

// Максимум перезапусков тела транзакции при конфликте версий.
const maxTxAttempts = 5

// ErrTxContention возвращается, когда транзакция не смогла закоммититься
// за maxTxAttempts попыток.
var ErrTxContention = errors.New("postgres: transaction contention")

var errReadAfterWrite = errors.New("postgres: read after write in transaction")

// documentRow - строка таблицы documents: документ в JSONB плюс версия
// для оптимистичных транзакций.
type documentRow struct {
	Collection string `gorm:"primaryKey;size:512"`
	DocID      string `gorm:"primaryKey;column:doc_id;size:128"`
	Data       []byte `gorm:"type:jsonb;not null"`
	Version    int64  `gorm:"not null;default:1"`
}

func (documentRow) TableName() string { return "documents" }

// Store реализует docstore.Store поверх PostgreSQL: документы лежат в
// одной таблице JSONB, оптимистичная транзакция перечитывает версии
// под SELECT ... FOR UPDATE при коммите.
type Store struct {
	db *gorm.DB
}

// New подключается к базе и выполняет миграцию схемы.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Collection(path ...string) docstore.Collection {
	return &collection{s: s, path: strings.Join(path, "/")}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === Транзакции ===

// RunTransaction выполняет body оптимистично: чтения идут обычными
// SELECT'ами с фиксацией версии, записи буферизуются; коммит в SQL-
// транзакции блокирует прочитанные строки и проверяет, что версии не
// изменились, иначе body перезапускается. Ошибка body возвращается
// без изменений.
func (s *Store) RunTransaction(ctx context.Context, body func(tx docstore.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &pgTx{s: s, ctx: ctx, reads: make(map[string]int64)}
		if err := body(tx); err != nil {
			return err
		}

		ok, err := s.commit(ctx, tx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
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

type pgTx struct {
	s      *Store
	ctx    context.Context
	mu     sync.Mutex
	reads  map[string]int64
	writes []bufferedWrite
}

func (tx *pgTx) Get(c docstore.Collection, id string) (docstore.Document, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if len(tx.writes) > 0 {
		return nil, errReadAfterWrite
	}

	var row documentRow
	err := tx.s.db.WithContext(tx.ctx).
		Where("collection = ? AND doc_id = ?", c.Path(), id).
		Take(&row).Error

	key := docKey(c.Path(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// отсутствие тоже фиксируем: параллельное создание документа
		// должно инвалидировать транзакцию
		tx.reads[key] = 0
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.reads[key] = row.Version
	return &document{id: id, raw: row.Data}, nil
}

func (tx *pgTx) Set(c docstore.Collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, bufferedWrite{op: opSet, col: c.Path(), id: id, raw: raw})
	return nil
}

func (tx *pgTx) Update(c docstore.Collection, id string, updates []docstore.Update) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, bufferedWrite{op: opUpdate, col: c.Path(), id: id, updates: updates})
	return nil
}

func (tx *pgTx) Delete(c docstore.Collection, id string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, bufferedWrite{op: opDelete, col: c.Path(), id: id})
	return nil
}

var errVersionConflict = errors.New("postgres: version conflict")

// commit проверяет версии прочитанных строк под блокировкой и применяет
// буфер записей. (false, nil) означает конфликт - вызывающий перезапустит
// тело транзакции.
func (s *Store) commit(ctx context.Context, tx *pgTx) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		for key, seen := range tx.reads {
			col, id := splitDocKey(key)

			var row documentRow
			err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("collection = ? AND doc_id = ?", col, id).
				Take(&row).Error

			var current int64
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				current = 0
			case err != nil:
				return err
			default:
				current = row.Version
			}
			if current != seen {
				return errVersionConflict
			}
		}

		for _, w := range tx.writes {
			if err := applyWrite(dbtx, w); err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, errVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func applyWrite(dbtx *gorm.DB, w bufferedWrite) error {
	switch w.op {
	case opSet:
		return upsert(dbtx, w.col, w.id, w.raw)
	case opUpdate:
		var row documentRow
		err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", w.col, w.id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return docstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := docstore.ApplyUpdates(row.Data, w.updates)
		if err != nil {
			return err
		}
		return dbtx.Model(&documentRow{}).
			Where("collection = ? AND doc_id = ?", w.col, w.id).
			Updates(map[string]any{"data": raw, "version": gorm.Expr("version + 1")}).Error
	case opDelete:
		return dbtx.Where("collection = ? AND doc_id = ?", w.col, w.id).
			Delete(&documentRow{}).Error
	}
	return nil
}

func upsert(dbtx *gorm.DB, col, id string, raw []byte) error {
	return dbtx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"data":    raw,
			"version": gorm.Expr("documents.version + 1"),
		}),
	}).Create(&documentRow{Collection: col, DocID: id, Data: raw, Version: 1}).Error
}

// === Коллекция ===

type collection struct {
	s    *Store
	path string
}

func (c *collection) Path() string { return c.path }

func (c *collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	var row documentRow
	err := c.s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", c.path, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &document{id: id, raw: row.Data}, nil
}

func (c *collection) GetAll(ctx context.Context, ids []string) ([]docstore.Document, error) {
	var rows []documentRow
	err := c.s.db.WithContext(ctx).
		Where("collection = ? AND doc_id IN ?", c.path, ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return wrapRows(rows), nil
}

func (c *collection) All(ctx context.Context) ([]docstore.Document, error) {
	var rows []documentRow
	err := c.s.db.WithContext(ctx).
		Where("collection = ?", c.path).
		Order("doc_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return wrapRows(rows), nil
}

func (c *collection) Query(ctx context.Context, field, op string, value any) ([]docstore.Document, error) {
	if op != "==" {
		return nil, fmt.Errorf("postgres: unsupported query operator %q", op)
	}
	want, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var rows []documentRow
	err = c.s.db.WithContext(ctx).
		Where("collection = ? AND data -> ? = ?::jsonb", c.path, field, string(want)).
		Order("doc_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return wrapRows(rows), nil
}

func (c *collection) Set(ctx context.Context, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return upsert(c.s.db.WithContext(ctx), c.path, id, raw)
}

func (c *collection) Update(ctx context.Context, id string, updates []docstore.Update) error {
	return c.s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		return applyWrite(dbtx, bufferedWrite{op: opUpdate, col: c.path, id: id, updates: updates})
	})
}

func (c *collection) Delete(ctx context.Context, id string) error {
	return c.s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", c.path, id).
		Delete(&documentRow{}).Error
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

func wrapRows(rows []documentRow) []docstore.Document {
	docs := make([]docstore.Document, len(rows))
	for i, row := range rows {
		docs[i] = &document{id: row.DocID, raw: row.Data}
	}
	return docs
}

func docKey(col, id string) string { return col + "\x00" + id }

func splitDocKey(key string) (string, string) {
	i := strings.IndexByte(key, '\x00')
	return key[:i], key[i+1:]
}
