package engine

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/errs"
	"github.com/UkralStul/graphql-blog-service/internal/events"
	"github.com/UkralStul/graphql-blog-service/internal/metrics"
)

// Engine выполняет каждую социальную мутацию как атомарную операцию
// против документного хранилища. Протокол общий для всех операций:
// аутентификация, быстрая проверка входных данных до транзакции,
// обязательная перечитка состояния внутри транзакции и согласованные
// записи (денормализованный список пользователя + запись в под-коллекции
// блога) в одном коммите.
//
// Доменные конфликты, обнаруженные внутри транзакции, возвращаются как
// *errs.AppError: хранилище пробрасывает ошибку тела без изменений, и
// translate отличает их от настоящих сбоев базы.
type Engine struct {
	store    docstore.Store
	auth     *auth.Authenticator
	bus      *events.Bus
	log      *zap.Logger
	validate *validator.Validate

	users   docstore.Collection
	blogs   docstore.Collection
	handles docstore.Collection

	now func() time.Time
}

// Credentials - авторизационный пакет мутации.
type Credentials struct {
	Handle string
	Secret string
}

// NewUserInput - входные данные createNewUser. Нулевой Age означает
// "не указан"; отрицательный отклоняется валидатором.
type NewUserInput struct {
	Handle    string         `validate:"required,min=3,max=32"`
	FirstName string         `validate:"max=64"`
	LastName  string         `validate:"max=64"`
	Age       int32          `validate:"omitempty,gt=0"`
	Country   domain.Country `validate:"omitempty,oneof=INDIA USA CHINA RUSSIA EMPTY"`
}

// CreateBlogInput - входные данные createBlog.
type CreateBlogInput struct {
	Title   string `validate:"required,max=255"`
	Content string `validate:"required"`
}

// handleClaim - документ-индекс в коллекции handles: ключ - сам handle.
// Через него транзакция createNewUser обеспечивает уникальность handle,
// которой у хранилища нет нативно.
type handleClaim struct {
	UserID string `json:"userId" firestore:"userId"`
}

func New(store docstore.Store, authn *auth.Authenticator, bus *events.Bus, log *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		auth:     authn,
		bus:      bus,
		log:      log.Named("mutation-engine"),
		validate: validator.New(),
		users:    store.Collection("users"),
		blogs:    store.Collection("blogs"),
		handles:  store.Collection("handles"),
		now:      time.Now,
	}
}

func (e *Engine) comments(blogID string) docstore.Collection {
	return e.store.Collection("blogs", blogID, "comments")
}

func (e *Engine) upvotes(blogID string) docstore.Collection {
	return e.store.Collection("blogs", blogID, "upvotes")
}

// CreateUser создает пользователя со свежим секретом. Уникальность
// handle проверяется внутри транзакции через документ-индекс: чтение
// отсутствующего документа фиксируется снимком, и параллельное создание
// того же handle приводит к конфликту и перезапуску проигравшего.
func (e *Engine) CreateUser(ctx context.Context, input NewUserInput) (user *domain.User, err error) {
	log := e.log.With(zap.String("op", "createNewUser"), zap.String("handle", input.Handle))
	defer func() { observe("createNewUser", err) }()

	if verr := e.validate.Struct(input); verr != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "invalid user input", verr)
	}

	country := input.Country
	if country == "" {
		country = domain.CountryEmpty
	}
	user = &domain.User{
		ID:        uuid.NewString(),
		Handle:    input.Handle,
		Secret:    uuid.NewString(),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Age:       input.Age,
		Country:   country,
		Blogs:     []string{},
		Comments:  []domain.CommentRef{},
		Upvotes:   []domain.UpvoteRef{},
	}

	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, getErr := tx.Get(e.handles, input.Handle)
		if getErr == nil {
			return errs.New(errs.CodeAlreadyExists, "handle %s is already taken", input.Handle)
		}
		if !errors.Is(getErr, docstore.ErrNotFound) {
			return getErr
		}

		if setErr := tx.Set(e.handles, input.Handle, handleClaim{UserID: user.ID}); setErr != nil {
			return setErr
		}
		return tx.Set(e.users, user.ID, user)
	})
	if err != nil {
		return nil, e.translate(err, "couldn't create user", log)
	}

	log.Info("created user", zap.String("id", user.ID))
	e.publish(events.TypeUserCreated, "", user.ID, input.Handle)
	return user, nil
}

// CreateBlog создает блог: документ блога и id в списке blogs автора
// пишутся одной транзакцией.
func (e *Engine) CreateBlog(ctx context.Context, creds Credentials, input CreateBlogInput) (blog *domain.Blog, err error) {
	log := e.log.With(zap.String("op", "createBlog"), zap.String("handle", creds.Handle))
	defer func() { observe("createBlog", err) }()

	user, err := e.auth.Authenticate(ctx, creds.Handle, creds.Secret)
	if err != nil {
		return nil, err
	}
	if verr := e.validate.Struct(input); verr != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "invalid blog input", verr)
	}

	blog = &domain.Blog{
		ID:        uuid.NewString(),
		Title:     input.Title,
		Content:   input.Content,
		Timestamp: e.now().UnixMilli(),
		Author:    user.ID,
	}

	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if updErr := tx.Update(e.users, user.ID, []docstore.Update{
			{Field: "blogs", Value: docstore.ArrayUnion(blog.ID)},
		}); updErr != nil {
			return updErr
		}
		return tx.Set(e.blogs, blog.ID, blog)
	})
	if err != nil {
		return nil, e.translate(err, "couldn't create blog", log)
	}

	log.Info("created blog", zap.String("id", blog.ID))
	e.publish(events.TypeBlogCreated, blog.ID, blog.ID, creds.Handle)
	return blog, nil
}

// UpvoteBlog добавляет апвоут. Конфликт "уже голосовал" проверяется по
// перечитанному внутри транзакции списку upvotes: из двух конкурентных
// дубликатов максимум один видит пустой снимок, проигравший при
// перезапуске видит свежую запись и получает ERR_ALREADYEXISTS.
func (e *Engine) UpvoteBlog(ctx context.Context, creds Credentials, blogID string) (upvote *domain.Upvote, err error) {
	log := e.log.With(zap.String("op", "upvoteBlog"), zap.String("handle", creds.Handle), zap.String("blog", blogID))
	defer func() { observe("upvoteBlog", err) }()

	user, err := e.auth.Authenticate(ctx, creds.Handle, creds.Secret)
	if err != nil {
		return nil, err
	}
	// быстрый отказ на заведомо неверном id; консистентность
	// гарантирует не эта проверка, а перечитка в транзакции
	if err = e.checkBlogExists(ctx, blogID, log); err != nil {
		return nil, err
	}

	upvote = &domain.Upvote{
		ID:        uuid.NewString(),
		BlogID:    blogID,
		Upvoter:   user.ID,
		Timestamp: e.now().UnixMilli(),
	}

	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc, getErr := tx.Get(e.users, user.ID)
		if getErr != nil {
			return getErr
		}
		var fresh domain.User
		if dataErr := doc.DataTo(&fresh); dataErr != nil {
			return dataErr
		}
		if fresh.HasUpvoted(blogID) {
			return errs.New(errs.CodeAlreadyExists, "user %s already upvoted blog %s", creds.Handle, blogID)
		}

		if updErr := tx.Update(e.users, user.ID, []docstore.Update{
			{Field: "upvotes", Value: docstore.ArrayUnion(domain.UpvoteRef{ID: upvote.ID, BlogID: blogID})},
		}); updErr != nil {
			return updErr
		}
		return tx.Set(e.upvotes(blogID), upvote.ID, upvote)
	})
	if err != nil {
		return nil, e.translate(err, "couldn't upvote blog", log)
	}

	log.Info("created upvote", zap.String("id", upvote.ID))
	e.publish(events.TypeBlogUpvoted, blogID, upvote.ID, creds.Handle)
	return upvote, nil
}

// RemoveUpvote снимает апвоут. Отсутствие записи в перечитанном списке -
// доменный ERR_NOTFOUND, записи при этом не выполняются.
func (e *Engine) RemoveUpvote(ctx context.Context, creds Credentials, blogID string) (removed *domain.Upvote, err error) {
	log := e.log.With(zap.String("op", "removeUpvote"), zap.String("handle", creds.Handle), zap.String("blog", blogID))
	defer func() { observe("removeUpvote", err) }()

	user, err := e.auth.Authenticate(ctx, creds.Handle, creds.Secret)
	if err != nil {
		return nil, err
	}
	if err = e.checkBlogExists(ctx, blogID, log); err != nil {
		return nil, err
	}

	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc, getErr := tx.Get(e.users, user.ID)
		if getErr != nil {
			return getErr
		}
		var fresh domain.User
		if dataErr := doc.DataTo(&fresh); dataErr != nil {
			return dataErr
		}

		ref, ok := fresh.UpvoteFor(blogID)
		if !ok {
			return errs.New(errs.CodeNotFound, "user %s has no upvote on blog %s", creds.Handle, blogID)
		}

		removed = &domain.Upvote{ID: ref.ID, BlogID: blogID, Upvoter: user.ID}
		if recDoc, recErr := tx.Get(e.upvotes(blogID), ref.ID); recErr == nil {
			// таймстемп берем из записи под-коллекции, если она на месте
			_ = recDoc.DataTo(removed)
		} else if !errors.Is(recErr, docstore.ErrNotFound) {
			return recErr
		}

		if updErr := tx.Update(e.users, user.ID, []docstore.Update{
			{Field: "upvotes", Value: docstore.ArrayRemove(ref)},
		}); updErr != nil {
			return updErr
		}
		return tx.Delete(e.upvotes(blogID), ref.ID)
	})
	if err != nil {
		return nil, e.translate(err, "couldn't remove upvote", log)
	}

	log.Info("removed upvote", zap.String("id", removed.ID))
	e.publish(events.TypeUpvoteRemoved, blogID, removed.ID, creds.Handle)
	return removed, nil
}

// CreateComment создает комментарий: запись в под-коллекции блога и
// ссылка в списке comments пользователя в одной транзакции.
func (e *Engine) CreateComment(ctx context.Context, creds Credentials, blogID, content string) (comment *domain.Comment, err error) {
	log := e.log.With(zap.String("op", "createComment"), zap.String("handle", creds.Handle), zap.String("blog", blogID))
	defer func() { observe("createComment", err) }()

	user, err := e.auth.Authenticate(ctx, creds.Handle, creds.Secret)
	if err != nil {
		return nil, err
	}
	if verr := e.validate.Var(content, "required,max=2000"); verr != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, "invalid comment content", verr)
	}
	if err = e.checkBlogExists(ctx, blogID, log); err != nil {
		return nil, err
	}

	comment = &domain.Comment{
		ID:        uuid.NewString(),
		BlogID:    blogID,
		Content:   content,
		Commentor: user.ID,
		Timestamp: e.now().UnixMilli(),
	}

	err = e.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if updErr := tx.Update(e.users, user.ID, []docstore.Update{
			{Field: "comments", Value: docstore.ArrayUnion(domain.CommentRef{ID: comment.ID, BlogID: blogID})},
		}); updErr != nil {
			return updErr
		}
		return tx.Set(e.comments(blogID), comment.ID, comment)
	})
	if err != nil {
		return nil, e.translate(err, "couldn't create comment", log)
	}

	log.Info("created comment", zap.String("id", comment.ID))
	e.publish(events.TypeCommentCreated, blogID, comment.ID, creds.Handle)
	return comment, nil
}

// checkBlogExists - быстрая проверка до входа в транзакцию.
func (e *Engine) checkBlogExists(ctx context.Context, blogID string, log *zap.Logger) error {
	if _, err := e.blogs.Get(ctx, blogID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return errs.New(errs.CodeNotFound, "didn't find blog with id %s", blogID)
		}
		log.Error("blog pre-check failed", zap.Error(err))
		return errs.Wrap(errs.CodeDatabase, "can't reach database", err)
	}
	return nil
}

// translate разделяет доменные сентинелы и сбои хранилища: первые
// возвращаются как есть, все остальное логируется и уходит клиенту
// как ERR_DATABASE.
func (e *Engine) translate(err error, message string, log *zap.Logger) error {
	var appErr *errs.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	log.Error("transaction failed", zap.Error(err))
	return errs.Wrap(errs.CodeDatabase, message, err)
}

func (e *Engine) publish(eventType, blogID, entityID, actor string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:      eventType,
		BlogID:    blogID,
		EntityID:  entityID,
		Actor:     actor,
		Timestamp: e.now().UnixMilli(),
	})
}

func observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = string(errs.CodeOf(err))
	}
	metrics.Mutations.WithLabelValues(op, status).Inc()
}
