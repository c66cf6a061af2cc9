package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/depth"
	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	"github.com/UkralStul/graphql-blog-service/internal/engine"
)

// Resolver - корневая структура резолвера. Содержит все зависимости,
// которые нужны для выполнения запросов.
type Resolver struct {
	Store    docstore.Store
	Governor *depth.Governor
	Engine   *engine.Engine
	Auth     *auth.Authenticator
	Log      *zap.Logger
}

// track регистрирует ключ запроса для корневого поля и проверяет
// глубину 0. Ключ протаскивается через все stub'ы дерева резолверов;
// по завершении HTTP-запроса состояние освобождается досрочно.
func (r *Resolver) track(ctx context.Context, client string) (string, error) {
	key := r.Governor.Register(client)

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			r.Governor.Finish(key)
		}()
	}

	if err := r.Governor.Validate(key, 0); err != nil {
		return "", err
	}
	return key, nil
}
