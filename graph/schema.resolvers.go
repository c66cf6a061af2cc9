package graph

import (
	"context"
	"errors"
	"strconv"
	"sync"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/dataloader"
	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/UkralStul/graphql-blog-service/internal/engine"
	"github.com/UkralStul/graphql-blog-service/internal/errs"
)

// === Входные типы ===

type authPacket struct {
	Handle string
	Secret string
}

func (a authPacket) credentials() engine.Credentials {
	return engine.Credentials{Handle: a.Handle, Secret: a.Secret}
}

type newUserInput struct {
	Handle    string
	FirstName *string
	LastName  *string
	Age       *int32
	Country   *string
}

type createBlogInput struct {
	Title   string
	Content string
}

// === Query Resolvers ===

func (r *Resolver) Blog(ctx context.Context, args struct{ BlogID graphql.ID }) (*blogResolver, error) {
	key, err := r.track(ctx, "")
	if err != nil {
		return nil, err
	}
	return &blogResolver{root: r, id: string(args.BlogID), key: key, depth: 0}, nil
}

func (r *Resolver) BlogsCreatedBy(ctx context.Context, args struct{ UserID graphql.ID }) (*[]*blogResolver, error) {
	key, err := r.track(ctx, "")
	if err != nil {
		return nil, err
	}

	docs, err := r.Store.Collection("blogs").Query(ctx, "author", "==", string(args.UserID))
	if err != nil {
		r.Log.Error("blogsCreatedBy query failed", zap.Error(err))
		return nil, errs.Wrap(errs.CodeDatabase, "can't reach database", err)
	}

	blogs := make([]*blogResolver, 0, len(docs))
	for _, doc := range docs {
		var b domain.Blog
		if err := doc.DataTo(&b); err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "corrupt blog document", err)
		}
		blogs = append(blogs, &blogResolver{root: r, id: b.ID, key: key, depth: 0, data: &b})
	}
	return &blogs, nil
}

func (r *Resolver) User(ctx context.Context, args struct{ Handle string }) (*userResolver, error) {
	key, err := r.track(ctx, args.Handle)
	if err != nil {
		return nil, err
	}

	user, err := r.Auth.LookupUser(ctx, args.Handle)
	if err != nil {
		return nil, err
	}
	return &userResolver{root: r, id: user.ID, key: key, depth: 0, data: user}, nil
}

// === Mutation Resolvers ===

func (r *Resolver) CreateNewUser(ctx context.Context, args struct{ Input newUserInput }) (*newUserPacketResolver, error) {
	key, err := r.track(ctx, args.Input.Handle)
	if err != nil {
		return nil, err
	}

	input := engine.NewUserInput{Handle: args.Input.Handle}
	if args.Input.FirstName != nil {
		input.FirstName = *args.Input.FirstName
	}
	if args.Input.LastName != nil {
		input.LastName = *args.Input.LastName
	}
	if args.Input.Age != nil {
		input.Age = *args.Input.Age
	}
	if args.Input.Country != nil {
		input.Country = domain.Country(*args.Input.Country)
	}

	user, err := r.Engine.CreateUser(ctx, input)
	if err != nil {
		return nil, err
	}
	return &newUserPacketResolver{
		user:   &userResolver{root: r, id: user.ID, key: key, depth: 0, data: user},
		secret: user.Secret,
	}, nil
}

func (r *Resolver) CreateBlog(ctx context.Context, args struct {
	Input createBlogInput
	Auth  authPacket
}) (*blogResolver, error) {
	key, err := r.track(ctx, args.Auth.Handle)
	if err != nil {
		return nil, err
	}

	blog, err := r.Engine.CreateBlog(ctx, args.Auth.credentials(), engine.CreateBlogInput{
		Title:   args.Input.Title,
		Content: args.Input.Content,
	})
	if err != nil {
		return nil, err
	}
	return &blogResolver{root: r, id: blog.ID, key: key, depth: 0, data: blog}, nil
}

func (r *Resolver) UpvoteBlog(ctx context.Context, args struct {
	BlogID graphql.ID
	Auth   authPacket
}) (*upvoteResolver, error) {
	key, err := r.track(ctx, args.Auth.Handle)
	if err != nil {
		return nil, err
	}

	upvote, err := r.Engine.UpvoteBlog(ctx, args.Auth.credentials(), string(args.BlogID))
	if err != nil {
		return nil, err
	}
	return &upvoteResolver{root: r, id: upvote.ID, blogID: upvote.BlogID, key: key, depth: 0, data: upvote}, nil
}

func (r *Resolver) RemoveUpvote(ctx context.Context, args struct {
	BlogID graphql.ID
	Auth   authPacket
}) (*upvoteResolver, error) {
	key, err := r.track(ctx, args.Auth.Handle)
	if err != nil {
		return nil, err
	}

	removed, err := r.Engine.RemoveUpvote(ctx, args.Auth.credentials(), string(args.BlogID))
	if err != nil {
		return nil, err
	}
	// запись уже удалена - отдаем снятый апвоут как преднагруженный stub
	return &upvoteResolver{root: r, id: removed.ID, blogID: removed.BlogID, key: key, depth: 0, data: removed}, nil
}

func (r *Resolver) CreateComment(ctx context.Context, args struct {
	BlogID  graphql.ID
	Content string
	Auth    authPacket
}) (*commentResolver, error) {
	key, err := r.track(ctx, args.Auth.Handle)
	if err != nil {
		return nil, err
	}

	comment, err := r.Engine.CreateComment(ctx, args.Auth.credentials(), string(args.BlogID), args.Content)
	if err != nil {
		return nil, err
	}
	return &commentResolver{root: r, id: comment.ID, blogID: comment.BlogID, key: key, depth: 0, data: comment}, nil
}

// === Blog ===

// blogResolver - stub блога: до первого обращения к полям несет только
// id и ключ/глубину запроса. Гидрация делается один раз; каждый переход
// через границу сущности выдает дочерним stub'ам глубину depth+1.
type blogResolver struct {
	root  *Resolver
	id    string
	key   string
	depth int

	once sync.Once
	data *domain.Blog
	err  error
}

func (b *blogResolver) hydrate(ctx context.Context) error {
	b.once.Do(func() {
		if b.err = b.root.Governor.Validate(b.key, b.depth); b.err != nil {
			return
		}
		if b.data != nil {
			return
		}

		doc, err := b.root.Store.Collection("blogs").Get(ctx, b.id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				b.err = errs.New(errs.CodeNotFound, "didn't find blog with id %s", b.id)
				return
			}
			b.root.Log.Error("blog fetch failed", zap.String("id", b.id), zap.Error(err))
			b.err = errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
			return
		}

		var data domain.Blog
		if err := doc.DataTo(&data); err != nil {
			b.err = errs.Wrap(errs.CodeInternal, "corrupt blog document", err)
			return
		}
		b.data = &data
	})
	return b.err
}

func (b *blogResolver) ID(ctx context.Context) (graphql.ID, error) {
	if err := b.hydrate(ctx); err != nil {
		return "", err
	}
	return graphql.ID(b.data.ID), nil
}

func (b *blogResolver) Title(ctx context.Context) (string, error) {
	if err := b.hydrate(ctx); err != nil {
		return "", err
	}
	return b.data.Title, nil
}

func (b *blogResolver) Content(ctx context.Context) (string, error) {
	if err := b.hydrate(ctx); err != nil {
		return "", err
	}
	return b.data.Content, nil
}

func (b *blogResolver) Timestamp(ctx context.Context) (string, error) {
	if err := b.hydrate(ctx); err != nil {
		return "", err
	}
	return strconv.FormatInt(b.data.Timestamp, 10), nil
}

func (b *blogResolver) Author(ctx context.Context) (*userResolver, error) {
	if err := b.hydrate(ctx); err != nil {
		return nil, err
	}
	return &userResolver{root: b.root, id: b.data.Author, key: b.key, depth: b.depth + 1}, nil
}

func (b *blogResolver) Comments(ctx context.Context) ([]*commentResolver, error) {
	if err := b.hydrate(ctx); err != nil {
		return nil, err
	}

	docs, err := b.root.Store.Collection("blogs", b.id, "comments").All(ctx)
	if err != nil {
		b.root.Log.Error("blog comments fetch failed", zap.String("id", b.id), zap.Error(err))
		return nil, errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
	}

	comments := make([]*commentResolver, 0, len(docs))
	for _, doc := range docs {
		var c domain.Comment
		if err := doc.DataTo(&c); err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "corrupt comment document", err)
		}
		comments = append(comments, &commentResolver{
			root: b.root, id: c.ID, blogID: b.id, key: b.key, depth: b.depth + 1, data: &c,
		})
	}
	return comments, nil
}

func (b *blogResolver) Upvotes(ctx context.Context) ([]*upvoteResolver, error) {
	if err := b.hydrate(ctx); err != nil {
		return nil, err
	}

	docs, err := b.root.Store.Collection("blogs", b.id, "upvotes").All(ctx)
	if err != nil {
		b.root.Log.Error("blog upvotes fetch failed", zap.String("id", b.id), zap.Error(err))
		return nil, errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
	}

	upvotes := make([]*upvoteResolver, 0, len(docs))
	for _, doc := range docs {
		var u domain.Upvote
		if err := doc.DataTo(&u); err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "corrupt upvote document", err)
		}
		upvotes = append(upvotes, &upvoteResolver{
			root: b.root, id: u.ID, blogID: b.id, key: b.key, depth: b.depth + 1, data: &u,
		})
	}
	return upvotes, nil
}

// === User ===

type userResolver struct {
	root  *Resolver
	id    string
	key   string
	depth int

	once sync.Once
	data *domain.User
	err  error
}

func (u *userResolver) hydrate(ctx context.Context) error {
	u.once.Do(func() {
		if u.err = u.root.Governor.Validate(u.key, u.depth); u.err != nil {
			return
		}
		if u.data != nil {
			return
		}

		// в рамках одного GraphQL-запроса пользователи грузятся батчем
		if loaders := dataloader.For(ctx); loaders != nil {
			thunk := loaders.UserByID.Load(ctx, stringKey(u.id))
			data, err := thunk()
			if err != nil {
				u.err = mapUserFetchErr(u.root, u.id, err)
				return
			}
			u.data = data.(*domain.User)
			return
		}

		doc, err := u.root.Store.Collection("users").Get(ctx, u.id)
		if err != nil {
			u.err = mapUserFetchErr(u.root, u.id, err)
			return
		}
		var data domain.User
		if err := doc.DataTo(&data); err != nil {
			u.err = errs.Wrap(errs.CodeInternal, "corrupt user document", err)
			return
		}
		u.data = &data
	})
	return u.err
}

func mapUserFetchErr(root *Resolver, id string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return errs.New(errs.CodeNotFound, "didn't find user with id %s", id)
	}
	root.Log.Error("user fetch failed", zap.String("id", id), zap.Error(err))
	return errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
}

func (u *userResolver) ID(ctx context.Context) (graphql.ID, error) {
	if err := u.hydrate(ctx); err != nil {
		return "", err
	}
	return graphql.ID(u.data.ID), nil
}

func (u *userResolver) Handle(ctx context.Context) (string, error) {
	if err := u.hydrate(ctx); err != nil {
		return "", err
	}
	return u.data.Handle, nil
}

func (u *userResolver) FirstName(ctx context.Context) (*string, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}
	return optional(u.data.FirstName), nil
}

func (u *userResolver) LastName(ctx context.Context) (*string, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}
	return optional(u.data.LastName), nil
}

func (u *userResolver) Age(ctx context.Context) (*int32, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}
	if u.data.Age == 0 {
		return nil, nil
	}
	age := u.data.Age
	return &age, nil
}

func (u *userResolver) Country(ctx context.Context) (domain.Country, error) {
	if err := u.hydrate(ctx); err != nil {
		return "", err
	}
	if u.data.Country == "" {
		return domain.CountryEmpty, nil
	}
	return u.data.Country, nil
}

func (u *userResolver) Blogs(ctx context.Context) ([]*blogResolver, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}

	blogs := make([]*blogResolver, 0, len(u.data.Blogs))
	for _, id := range u.data.Blogs {
		blogs = append(blogs, &blogResolver{root: u.root, id: id, key: u.key, depth: u.depth + 1})
	}
	return blogs, nil
}

func (u *userResolver) Comments(ctx context.Context) ([]*commentResolver, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}

	comments := make([]*commentResolver, 0, len(u.data.Comments))
	for _, ref := range u.data.Comments {
		comments = append(comments, &commentResolver{
			root: u.root, id: ref.ID, blogID: ref.BlogID, key: u.key, depth: u.depth + 1,
		})
	}
	return comments, nil
}

func (u *userResolver) Upvotes(ctx context.Context) ([]*upvoteResolver, error) {
	if err := u.hydrate(ctx); err != nil {
		return nil, err
	}

	upvotes := make([]*upvoteResolver, 0, len(u.data.Upvotes))
	for _, ref := range u.data.Upvotes {
		upvotes = append(upvotes, &upvoteResolver{
			root: u.root, id: ref.ID, blogID: ref.BlogID, key: u.key, depth: u.depth + 1,
		})
	}
	return upvotes, nil
}

// === Comment ===

type commentResolver struct {
	root   *Resolver
	id     string
	blogID string
	key    string
	depth  int

	once sync.Once
	data *domain.Comment
	err  error
}

func (c *commentResolver) hydrate(ctx context.Context) error {
	c.once.Do(func() {
		if c.err = c.root.Governor.Validate(c.key, c.depth); c.err != nil {
			return
		}
		if c.data != nil {
			return
		}

		doc, err := c.root.Store.Collection("blogs", c.blogID, "comments").Get(ctx, c.id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				c.err = errs.New(errs.CodeNotFound, "didn't find comment with id %s", c.id)
				return
			}
			c.root.Log.Error("comment fetch failed", zap.String("id", c.id), zap.Error(err))
			c.err = errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
			return
		}

		var data domain.Comment
		if err := doc.DataTo(&data); err != nil {
			c.err = errs.Wrap(errs.CodeInternal, "corrupt comment document", err)
			return
		}
		c.data = &data
	})
	return c.err
}

func (c *commentResolver) ID(ctx context.Context) (graphql.ID, error) {
	if err := c.hydrate(ctx); err != nil {
		return "", err
	}
	return graphql.ID(c.data.ID), nil
}

func (c *commentResolver) Content(ctx context.Context) (string, error) {
	if err := c.hydrate(ctx); err != nil {
		return "", err
	}
	return c.data.Content, nil
}

func (c *commentResolver) Timestamp(ctx context.Context) (string, error) {
	if err := c.hydrate(ctx); err != nil {
		return "", err
	}
	return strconv.FormatInt(c.data.Timestamp, 10), nil
}

func (c *commentResolver) Commentor(ctx context.Context) (*userResolver, error) {
	if err := c.hydrate(ctx); err != nil {
		return nil, err
	}
	return &userResolver{root: c.root, id: c.data.Commentor, key: c.key, depth: c.depth + 1}, nil
}

// === Upvote ===

type upvoteResolver struct {
	root   *Resolver
	id     string
	blogID string
	key    string
	depth  int

	once sync.Once
	data *domain.Upvote
	err  error
}

func (v *upvoteResolver) hydrate(ctx context.Context) error {
	v.once.Do(func() {
		if v.err = v.root.Governor.Validate(v.key, v.depth); v.err != nil {
			return
		}
		if v.data != nil {
			return
		}

		doc, err := v.root.Store.Collection("blogs", v.blogID, "upvotes").Get(ctx, v.id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				v.err = errs.New(errs.CodeNotFound, "didn't find upvote with id %s", v.id)
				return
			}
			v.root.Log.Error("upvote fetch failed", zap.String("id", v.id), zap.Error(err))
			v.err = errs.Wrap(errs.CodeDatabase, "couldn't reach database", err)
			return
		}

		var data domain.Upvote
		if err := doc.DataTo(&data); err != nil {
			v.err = errs.Wrap(errs.CodeInternal, "corrupt upvote document", err)
			return
		}
		v.data = &data
	})
	return v.err
}

func (v *upvoteResolver) ID(ctx context.Context) (graphql.ID, error) {
	if err := v.hydrate(ctx); err != nil {
		return "", err
	}
	return graphql.ID(v.data.ID), nil
}

func (v *upvoteResolver) Timestamp(ctx context.Context) (string, error) {
	if err := v.hydrate(ctx); err != nil {
		return "", err
	}
	return strconv.FormatInt(v.data.Timestamp, 10), nil
}

func (v *upvoteResolver) Upvoter(ctx context.Context) (*userResolver, error) {
	if err := v.hydrate(ctx); err != nil {
		return nil, err
	}
	return &userResolver{root: v.root, id: v.data.Upvoter, key: v.key, depth: v.depth + 1}, nil
}

// === NewUserPacket ===

type newUserPacketResolver struct {
	user   *userResolver
	secret string
}

func (p *newUserPacketResolver) User() *userResolver { return p.user }
func (p *newUserPacketResolver) Secret() string      { return p.secret }

// === Вспомогательные ===

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type stringKey string

func (k stringKey) String() string { return string(k) }
func (k stringKey) Raw() any       { return string(k) }
