package docstore

// Пакет docstore определяет контракт документного хранилища, от которого
// зависит движок мутаций: коллекции документов, частичные обновления с
// операциями arrayUnion/arrayRemove и оптимистичные транзакции.
// Реализации: inmemory (тесты и локальный запуск), postgres (JSONB),
// firestore (продакшен).

import (
	"context"
	"errors"
)

// ErrNotFound возвращается Get'ом, когда документа нет.
var ErrNotFound = errors.New("docstore: document not found")

// Document - прочитанный снимок документа.
type Document interface {
	ID() string
	Exists() bool
	// DataTo декодирует данные документа в структуру (json-теги).
	DataTo(v any) error
}

// Update - частичное обновление одного поля. Value может быть обычным
// значением либо маркером ArrayUnion/ArrayRemove.
type Update struct {
	Field string
	Value any
}

type arrayUnion struct{ Elems []any }
type arrayRemove struct{ Elems []any }

// ArrayUnion добавляет элементы в поле-массив, пропуская уже существующие.
func ArrayUnion(elems ...any) any { return arrayUnion{Elems: elems} }

// ArrayRemove удаляет из поля-массива все вхождения элементов.
func ArrayRemove(elems ...any) any { return arrayRemove{Elems: elems} }

// UnionElems возвращает элементы маркера ArrayUnion.
// Используется реализациями при применении Update.
func UnionElems(v any) ([]any, bool) {
	u, ok := v.(arrayUnion)
	return u.Elems, ok
}

// RemoveElems возвращает элементы маркера ArrayRemove.
func RemoveElems(v any) ([]any, bool) {
	r, ok := v.(arrayRemove)
	return r.Elems, ok
}

// Collection - именованная коллекция документов. Путь из трех сегментов
// (например blogs/<id>/upvotes) означает под-коллекцию документа.
type Collection interface {
	// Path возвращает полный путь коллекции.
	Path() string

	Get(ctx context.Context, id string) (Document, error)
	// GetAll возвращает документы по списку id; отсутствующие пропускаются.
	GetAll(ctx context.Context, ids []string) ([]Document, error)
	// All возвращает все документы коллекции.
	All(ctx context.Context) ([]Document, error)
	// Query возвращает документы, у которых поле field сравнивается
	// с value оператором op ("==" - единственный обязательный).
	Query(ctx context.Context, field, op string, value any) ([]Document, error)

	Set(ctx context.Context, id string, data any) error
	Update(ctx context.Context, id string, updates []Update) error
	Delete(ctx context.Context, id string) error
}

// Tx - операции, доступные внутри транзакции. Чтения привязаны к снимку;
// записи буферизуются и применяются атомарно при коммите. Чтение после
// первой записи - ошибка использования (как в Firestore).
type Tx interface {
	Get(c Collection, id string) (Document, error)
	Set(c Collection, id string, data any) error
	Update(c Collection, id string, updates []Update) error
	Delete(c Collection, id string) error
}

// Store - документное хранилище.
//
// RunTransaction выполняет body в оптимистичной транзакции: при конфликте
// записи body перезапускается самим хранилищем. Ошибка, возвращенная из
// body, отменяет транзакцию и возвращается вызывающему без изменений -
// на этом держится протокол доменных сентинелов движка мутаций.
type Store interface {
	Collection(path ...string) Collection
	RunTransaction(ctx context.Context, body func(tx Tx) error) error
	Close() error
}
