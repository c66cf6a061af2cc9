package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func TestStore_SetAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")

	require.NoError(t, users.Set(ctx, "u-1", testDoc{Name: "gopher"}))

	doc, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, doc.Exists())

	var got testDoc
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, "gopher", got.Name)

	_, err = users.Get(ctx, "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_SubcollectionsAreIsolated(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Collection("blogs", "b-1", "upvotes").Set(ctx, "up-1", testDoc{Name: "a"}))

	_, err := store.Collection("blogs", "b-2", "upvotes").Get(ctx, "up-1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	docs, err := store.Collection("blogs", "b-1", "upvotes").All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStore_Query(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")

	require.NoError(t, users.Set(ctx, "u-1", map[string]any{"handle": "alice"}))
	require.NoError(t, users.Set(ctx, "u-2", map[string]any{"handle": "bob"}))

	docs, err := users.Query(ctx, "handle", "==", "bob")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u-2", docs[0].ID())

	_, err = users.Query(ctx, "handle", ">", "a")
	assert.Error(t, err)
}

func TestStore_ArrayUnionAndRemove(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")

	require.NoError(t, users.Set(ctx, "u-1", testDoc{Name: "gopher", Tags: []string{"go"}}))

	// union не дублирует уже существующие элементы
	err := users.Update(ctx, "u-1", []docstore.Update{
		{Field: "tags", Value: docstore.ArrayUnion("go", "graphql")},
	})
	require.NoError(t, err)

	var got testDoc
	doc, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, []string{"go", "graphql"}, got.Tags)

	err = users.Update(ctx, "u-1", []docstore.Update{
		{Field: "tags", Value: docstore.ArrayRemove("go")},
	})
	require.NoError(t, err)

	doc, err = users.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, []string{"graphql"}, got.Tags)
}

func TestStore_UpdateMissingDoc(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Collection("users").Update(ctx, "missing", []docstore.Update{{Field: "name", Value: "x"}})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestTransaction_BodyErrorAborts(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")
	require.NoError(t, users.Set(ctx, "u-1", testDoc{Name: "before"}))

	sentinel := errors.New("domain conflict")
	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Get(users, "u-1"); err != nil {
			return err
		}
		if err := tx.Set(users, "u-1", testDoc{Name: "after"}); err != nil {
			return err
		}
		return sentinel
	})
	// ошибка тела возвращается как есть, записи не применяются
	require.ErrorIs(t, err, sentinel)

	doc, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	var got testDoc
	require.NoError(t, doc.DataTo(&got))
	assert.Equal(t, "before", got.Name)
}

func TestTransaction_ReadAfterWrite(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")

	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := tx.Set(users, "u-1", testDoc{Name: "x"}); err != nil {
			return err
		}
		_, err := tx.Get(users, "u-1")
		return err
	})
	assert.ErrorIs(t, err, errReadAfterWrite)
}

func TestTransaction_RetriesOnConflict(t *testing.T) {
	store := New()
	ctx := context.Background()
	users := store.Collection("users")
	require.NoError(t, users.Set(ctx, "u-1", map[string]any{"n": 0}))

	attempts := 0
	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		attempts++
		doc, err := tx.Get(users, "u-1")
		if err != nil {
			return err
		}
		var m map[string]any
		if err := doc.DataTo(&m); err != nil {
			return err
		}

		// на первой попытке меняем документ "из-под" транзакции
		if attempts == 1 {
			require.NoError(t, users.Set(ctx, "u-1", map[string]any{"n": 100}))
		}

		return tx.Update(users, "u-1", []docstore.Update{{Field: "seen", Value: m["n"]}})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, doc.DataTo(&m))
	// вторая попытка прочитала уже новое значение
	assert.Equal(t, float64(100), m["seen"])
}

func TestTransaction_ConcurrentIncrements(t *testing.T) {
	store := New()
	ctx := context.Background()
	counters := store.Collection("counters")
	require.NoError(t, counters.Set(ctx, "c-1", map[string]any{"n": float64(0)}))

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- store.RunTransaction(ctx, func(tx docstore.Tx) error {
				doc, err := tx.Get(counters, "c-1")
				if err != nil {
					return err
				}
				var m map[string]any
				if err := doc.DataTo(&m); err != nil {
					return err
				}
				return tx.Update(counters, "c-1", []docstore.Update{
					{Field: "n", Value: m["n"].(float64) + 1},
				})
			})
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		if err == nil {
			succeeded++
		} else {
			// при высокой конкуренции допустим только ErrTxContention
			require.ErrorIs(t, err, ErrTxContention)
		}
	}

	doc, err := counters.Get(ctx, "c-1")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, doc.DataTo(&m))
	// каждый успешный коммит инкрементировал ровно один раз
	assert.Equal(t, float64(succeeded), m["n"])
}
