package firestore

import (
	"context"
	"strings"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"
)

// Store - адаптер docstore.Store поверх Cloud Firestore. Операции
// arrayUnion/arrayRemove и оптимистичные транзакции с перезапуском
// при конфликте записи поддерживаются клиентом нативно.
type Store struct {
	client *fs.Client
}

// New подключается к Firestore. credsFile может быть пустым - тогда
// используются Application Default Credentials.
func New(ctx context.Context, projectID, credsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}
	client, err := fs.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func (s *Store) Collection(path ...string) docstore.Collection {
	return &collection{client: s.client, ref: s.client.Collection(strings.Join(path, "/"))}
}

// RunTransaction делегирует клиенту Firestore: тот перезапускает тело
// при конфликте и возвращает ошибку тела без изменений - ровно тот
// контракт, который нужен для доменных сентинелов.
func (s *Store) RunTransaction(ctx context.Context, body func(tx docstore.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *fs.Transaction) error {
		return body(&transaction{t: t})
	})
}

func (s *Store) Close() error {
	return s.client.Close()
}

// === Коллекция ===

type collection struct {
	client *fs.Client
	ref    *fs.CollectionRef
}

func (c *collection) Path() string { return c.ref.Path }

func (c *collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	snap, err := c.ref.Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return &document{snap: snap}, nil
}

func (c *collection) GetAll(ctx context.Context, ids []string) ([]docstore.Document, error) {
	refs := make([]*fs.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = c.ref.Doc(id)
	}

	snaps, err := c.client.GetAll(ctx, refs)
	if err != nil {
		return nil, err
	}

	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Exists() {
			docs = append(docs, &document{snap: snap})
		}
	}
	return docs, nil
}

func (c *collection) All(ctx context.Context) ([]docstore.Document, error) {
	snaps, err := c.ref.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return wrapAll(snaps), nil
}

func (c *collection) Query(ctx context.Context, field, op string, value any) ([]docstore.Document, error) {
	snaps, err := c.ref.Where(field, op, value).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return wrapAll(snaps), nil
}

func (c *collection) Set(ctx context.Context, id string, data any) error {
	_, err := c.ref.Doc(id).Set(ctx, data)
	return err
}

func (c *collection) Update(ctx context.Context, id string, updates []docstore.Update) error {
	_, err := c.ref.Doc(id).Update(ctx, translate(updates))
	return mapErr(err)
}

func (c *collection) Delete(ctx context.Context, id string) error {
	_, err := c.ref.Doc(id).Delete(ctx)
	return err
}

// === Транзакция ===

type transaction struct {
	t *fs.Transaction
}

func (tx *transaction) Get(c docstore.Collection, id string) (docstore.Document, error) {
	snap, err := tx.t.Get(ref(c).Doc(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return &document{snap: snap}, nil
}

func (tx *transaction) Set(c docstore.Collection, id string, data any) error {
	return tx.t.Set(ref(c).Doc(id), data)
}

func (tx *transaction) Update(c docstore.Collection, id string, updates []docstore.Update) error {
	return tx.t.Update(ref(c).Doc(id), translate(updates))
}

func (tx *transaction) Delete(c docstore.Collection, id string) error {
	return tx.t.Delete(ref(c).Doc(id))
}

// === Документ ===

type document struct {
	snap *fs.DocumentSnapshot
}

func (d *document) ID() string   { return d.snap.Ref.ID }
func (d *document) Exists() bool { return d.snap.Exists() }

func (d *document) DataTo(v any) error {
	if !d.snap.Exists() {
		return docstore.ErrNotFound
	}
	return d.snap.DataTo(v)
}

// === Внутренности ===

func ref(c docstore.Collection) *fs.CollectionRef {
	return c.(*collection).ref
}

func wrapAll(snaps []*fs.DocumentSnapshot) []docstore.Document {
	docs := make([]docstore.Document, len(snaps))
	for i, snap := range snaps {
		docs[i] = &document{snap: snap}
	}
	return docs
}

func translate(updates []docstore.Update) []fs.Update {
	out := make([]fs.Update, len(updates))
	for i, u := range updates {
		value := u.Value
		if elems, ok := docstore.UnionElems(u.Value); ok {
			value = fs.ArrayUnion(elems...)
		} else if elems, ok := docstore.RemoveElems(u.Value); ok {
			value = fs.ArrayRemove(elems...)
		}
		out[i] = fs.Update{Path: u.Field, Value: value}
	}
	return out
}

func mapErr(err error) error {
	if status.Code(err) == codes.NotFound {
		return docstore.ErrNotFound
	}
	return err
}
