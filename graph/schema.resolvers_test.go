package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/depth"
	"github.com/UkralStul/graphql-blog-service/internal/docstore/inmemory"
	"github.com/UkralStul/graphql-blog-service/internal/engine"
	"github.com/UkralStul/graphql-blog-service/internal/events"
)

// newTestSchema собирает полный стек на in-memory хранилище: схема,
// движок и governor с заданным лимитом глубины.
func newTestSchema(t *testing.T, maxDepth int) (*graphql.Schema, *engine.Engine) {
	t.Helper()

	store := inmemory.New()
	log := zap.NewNop()
	governor := depth.New(maxDepth, time.Minute, log)
	t.Cleanup(governor.Close)

	authn := auth.New(store, true, log)
	eng := engine.New(store, authn, events.NewBus(log), log)

	resolver := &Resolver{
		Store:    store,
		Governor: governor,
		Engine:   eng,
		Auth:     authn,
		Log:      log,
	}
	return graphql.MustParseSchema(Schema, resolver, graphql.MaxParallelism(10)), eng
}

type seedData struct {
	User  engine.Credentials
	ID    string
	Blog  string
	Title string
}

func seedBlog(t *testing.T, eng *engine.Engine) seedData {
	t.Helper()
	ctx := context.Background()

	user, err := eng.CreateUser(ctx, engine.NewUserInput{Handle: "gopher", FirstName: "Rob"})
	require.NoError(t, err)
	creds := engine.Credentials{Handle: user.Handle, Secret: user.Secret}

	blog, err := eng.CreateBlog(ctx, creds, engine.CreateBlogInput{Title: "On Channels", Content: "..."})
	require.NoError(t, err)

	return seedData{User: creds, ID: user.ID, Blog: blog.ID, Title: blog.Title}
}

func exec(t *testing.T, schema *graphql.Schema, query string) (json.RawMessage, []string) {
	t.Helper()

	resp := schema.Exec(context.Background(), query, "", nil)
	codes := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if c, ok := e.Extensions["code"].(string); ok {
			codes = append(codes, c)
		} else {
			codes = append(codes, e.Message)
		}
	}
	return resp.Data, codes
}

func TestQueryBlog(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seed := seedBlog(t, eng)

	ctx := context.Background()
	_, err := eng.UpvoteBlog(ctx, seed.User, seed.Blog)
	require.NoError(t, err)
	_, err = eng.CreateComment(ctx, seed.User, seed.Blog, "nice one")
	require.NoError(t, err)

	data, codes := exec(t, schema, fmt.Sprintf(`{
		blog(blogId: %q) {
			title
			author { handle firstName country }
			comments { content commentor { handle } }
			upvotes { upvoter { handle } }
		}
	}`, seed.Blog))
	require.Empty(t, codes)

	var got struct {
		Blog struct {
			Title  string
			Author struct {
				Handle    string
				FirstName *string
				Country   string
			}
			Comments []struct {
				Content   string
				Commentor struct{ Handle string }
			}
			Upvotes []struct {
				Upvoter struct{ Handle string }
			}
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "On Channels", got.Blog.Title)
	assert.Equal(t, "gopher", got.Blog.Author.Handle)
	require.NotNil(t, got.Blog.Author.FirstName)
	assert.Equal(t, "Rob", *got.Blog.Author.FirstName)
	assert.Equal(t, "EMPTY", got.Blog.Author.Country)
	require.Len(t, got.Blog.Comments, 1)
	assert.Equal(t, "nice one", got.Blog.Comments[0].Content)
	assert.Equal(t, "gopher", got.Blog.Comments[0].Commentor.Handle)
	require.Len(t, got.Blog.Upvotes, 1)
	assert.Equal(t, "gopher", got.Blog.Upvotes[0].Upvoter.Handle)
}

func TestQueryBlog_NotFound(t *testing.T) {
	schema, _ := newTestSchema(t, 3)

	_, codes := exec(t, schema, `{ blog(blogId: "no-such-blog") { title } }`)
	require.Len(t, codes, 1)
	assert.Equal(t, "ERR_NOTFOUND", codes[0])
}

func TestQueryUser(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seed := seedBlog(t, eng)

	data, codes := exec(t, schema, `{
		user(handle: "gopher") { id handle blogs { title } }
	}`)
	require.Empty(t, codes)

	var got struct {
		User struct {
			ID     string
			Handle string
			Blogs  []struct{ Title string }
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, seed.ID, got.User.ID)
	require.Len(t, got.User.Blogs, 1)
	assert.Equal(t, seed.Title, got.User.Blogs[0].Title)
}

func TestQueryUser_UnknownHandle(t *testing.T) {
	schema, _ := newTestSchema(t, 3)

	_, codes := exec(t, schema, `{ user(handle: "nobody") { id } }`)
	require.Len(t, codes, 1)
	assert.Equal(t, "ERR_NOTFOUND", codes[0])
}

func TestQueryBlog_DepthViolation(t *testing.T) {
	schema, eng := newTestSchema(t, 1)
	seed := seedBlog(t, eng)

	// blog на глубине 0, author на 1 (ровно лимит), blogs автора на 2
	_, codes := exec(t, schema, fmt.Sprintf(`{
		blog(blogId: %q) {
			author { blogs { title } }
		}
	}`, seed.Blog))
	require.NotEmpty(t, codes)
	assert.Contains(t, codes, "ERR_DEPTHVIOLATION")
}

func TestQueryBlog_DepthAtLimit(t *testing.T) {
	schema, eng := newTestSchema(t, 1)
	seed := seedBlog(t, eng)

	// глубина ровно в лимит проходит
	data, codes := exec(t, schema, fmt.Sprintf(`{
		blog(blogId: %q) { author { handle } }
	}`, seed.Blog))
	require.Empty(t, codes)

	var got struct {
		Blog struct {
			Author struct{ Handle string }
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "gopher", got.Blog.Author.Handle)
}

func TestMutationCreateNewUser(t *testing.T) {
	schema, _ := newTestSchema(t, 3)

	data, codes := exec(t, schema, `mutation {
		createNewUser(input: {handle: "writer", age: 25, country: RUSSIA}) {
			user { handle age country }
			secret
		}
	}`)
	require.Empty(t, codes)

	var got struct {
		CreateNewUser struct {
			User struct {
				Handle  string
				Age     *int32
				Country string
			}
			Secret string
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "writer", got.CreateNewUser.User.Handle)
	require.NotNil(t, got.CreateNewUser.User.Age)
	assert.Equal(t, int32(25), *got.CreateNewUser.User.Age)
	assert.Equal(t, "RUSSIA", got.CreateNewUser.User.Country)
	assert.NotEmpty(t, got.CreateNewUser.Secret)
}

func TestMutationCreateNewUser_DuplicateHandle(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seedBlog(t, eng)

	_, codes := exec(t, schema, `mutation {
		createNewUser(input: {handle: "gopher"}) { secret }
	}`)
	require.Len(t, codes, 1)
	assert.Equal(t, "ERR_ALREADYEXISTS", codes[0])
}

func TestMutationUpvoteAndRemove(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seed := seedBlog(t, eng)
	authArg := fmt.Sprintf(`{handle: %q, secret: %q}`, seed.User.Handle, seed.User.Secret)

	data, codes := exec(t, schema, fmt.Sprintf(`mutation {
		upvoteBlog(blogId: %q, auth: %s) { id upvoter { handle } }
	}`, seed.Blog, authArg))
	require.Empty(t, codes)

	var up struct {
		UpvoteBlog struct {
			ID      string
			Upvoter struct{ Handle string }
		}
	}
	require.NoError(t, json.Unmarshal(data, &up))
	assert.NotEmpty(t, up.UpvoteBlog.ID)
	assert.Equal(t, "gopher", up.UpvoteBlog.Upvoter.Handle)

	// повторный апвоут - конфликт
	_, codes = exec(t, schema, fmt.Sprintf(`mutation {
		upvoteBlog(blogId: %q, auth: %s) { id }
	}`, seed.Blog, authArg))
	require.Len(t, codes, 1)
	assert.Equal(t, "ERR_ALREADYEXISTS", codes[0])

	// снятие возвращает преднагруженный снимок удаленной записи
	data, codes = exec(t, schema, fmt.Sprintf(`mutation {
		removeUpvote(blogId: %q, auth: %s) { id }
	}`, seed.Blog, authArg))
	require.Empty(t, codes)

	var rm struct {
		RemoveUpvote struct{ ID string }
	}
	require.NoError(t, json.Unmarshal(data, &rm))
	assert.Equal(t, up.UpvoteBlog.ID, rm.RemoveUpvote.ID)
}

func TestMutationCreateBlog_BadSecret(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seedBlog(t, eng)

	_, codes := exec(t, schema, `mutation {
		createBlog(input: {title: "T", content: "C"}, auth: {handle: "gopher", secret: "wrong"}) { id }
	}`)
	require.Len(t, codes, 1)
	assert.Equal(t, "ERR_AUTH", codes[0])
}

func TestMutationCreateComment(t *testing.T) {
	schema, eng := newTestSchema(t, 3)
	seed := seedBlog(t, eng)
	authArg := fmt.Sprintf(`{handle: %q, secret: %q}`, seed.User.Handle, seed.User.Secret)

	data, codes := exec(t, schema, fmt.Sprintf(`mutation {
		createComment(blogId: %q, content: "First!", auth: %s) {
			content commentor { handle }
		}
	}`, seed.Blog, authArg))
	require.Empty(t, codes)

	var got struct {
		CreateComment struct {
			Content   string
			Commentor struct{ Handle string }
		}
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "First!", got.CreateComment.Content)
	assert.Equal(t, "gopher", got.CreateComment.Commentor.Handle)
}
