package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders содержит все дата-лоадеры приложения.
type Loaders struct {
	UserByID *dataloader.Loader
}

// Middleware внедряет лоадеры в контекст запроса. Резолверы commentor/
// upvoter/author одного GraphQL-запроса собираются в один батч-запрос
// к хранилищу вместо N отдельных чтений.
func Middleware(store docstore.Store, next http.Handler) http.Handler {
	users := store.Collection("users")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
			ids := make([]string, len(keys))
			for i, k := range keys {
				ids[i] = k.String()
			}

			// один запрос к хранилищу на весь батч
			docs, err := users.GetAll(ctx, ids)
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for i := range results {
					results[i] = &dataloader.Result{Error: err}
				}
				return results
			}

			byID := make(map[string]*domain.User, len(docs))
			for _, doc := range docs {
				var u domain.User
				if err := doc.DataTo(&u); err != nil {
					continue
				}
				byID[doc.ID()] = &u
			}

			// результат в том же порядке, что и ключи
			results := make([]*dataloader.Result, len(keys))
			for i, id := range ids {
				if u, ok := byID[id]; ok {
					results[i] = &dataloader.Result{Data: u}
				} else {
					results[i] = &dataloader.Result{Error: fmt.Errorf("user %s: %w", id, docstore.ErrNotFound)}
				}
			}
			return results
		}

		loaders := Loaders{
			UserByID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond*1)),
		}

		ctx := context.WithValue(r.Context(), key, &loaders)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For извлекает лоадеры из контекста; nil, если middleware не отработал.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}
