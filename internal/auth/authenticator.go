package auth

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/errs"
)

// Authenticator разрешает handle в документ пользователя и сверяет секрет.
// При выключенной аутентификации проверка секрета пропускается, но
// пользователь по handle все равно должен существовать.
type Authenticator struct {
	users   docstore.Collection
	enabled bool
	log     *zap.Logger
}

func New(store docstore.Store, enabled bool, log *zap.Logger) *Authenticator {
	return &Authenticator{
		users:   store.Collection("users"),
		enabled: enabled,
		log:     log.Named("authenticator"),
	}
}

// LookupUser находит пользователя по handle. Дубликаты handle - наследие
// старых данных: логируем предупреждение и берем первый документ.
func (a *Authenticator) LookupUser(ctx context.Context, handle string) (*domain.User, error) {
	docs, err := a.users.Query(ctx, "handle", "==", handle)
	if err != nil {
		a.log.Error("user lookup failed", zap.String("handle", handle), zap.Error(err))
		return nil, errs.Wrap(errs.CodeDatabase, "can't reach database", err)
	}
	if len(docs) == 0 {
		return nil, errs.New(errs.CodeNotFound, "couldn't find user with handle=%s", handle)
	}
	if len(docs) > 1 {
		a.log.Warn("found multiple documents for handle", zap.String("handle", handle))
	}

	var user domain.User
	if err := docs[0].DataTo(&user); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "corrupt user document", err)
	}
	return &user, nil
}

// Authenticate возвращает документ пользователя при совпадении секрета.
func (a *Authenticator) Authenticate(ctx context.Context, handle, secret string) (*domain.User, error) {
	user, err := a.LookupUser(ctx, handle)
	if err != nil {
		return nil, err
	}

	if a.enabled {
		if subtle.ConstantTimeCompare([]byte(user.Secret), []byte(secret)) != 1 {
			a.log.Info("authenticating user: failed", zap.String("handle", handle))
			return nil, errs.New(errs.CodeAuth, "client secret doesn't match")
		}
		a.log.Info("authenticating user: success", zap.String("handle", handle))
	}
	return user, nil
}
