package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/graph"
	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/dataloader"
	"github.com/UkralStul/graphql-blog-service/internal/depth"
	"github.com/UkralStul/graphql-blog-service/internal/docstore"
	fsstore "github.com/UkralStul/graphql-blog-service/internal/docstore/firestore"
	"github.com/UkralStul/graphql-blog-service/internal/docstore/inmemory"
	pgstore "github.com/UkralStul/graphql-blog-service/internal/docstore/postgres"
	"github.com/UkralStul/graphql-blog-service/internal/engine"
	"github.com/UkralStul/graphql-blog-service/internal/events"
	"github.com/UkralStul/graphql-blog-service/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	log, err := logger.New(cfg.LogDev)
	if err != nil {
		stdlog.Fatalf("failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting server", zap.String("storage", cfg.Storage), zap.String("port", cfg.Port))

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	governor := depth.New(cfg.QueryMaxDepth, time.Duration(cfg.QueryMaxTimeSeconds)*time.Second, log)
	defer governor.Close()

	authn := auth.New(store, cfg.EnableAuth, log)
	bus := events.NewBus(log)
	eng := engine.New(store, authn, bus, log)

	if cfg.Storage == config.StorageInMemory {
		// Заполним данными для тестов
		fillWithMockData(eng, log)
	}

	resolver := &graph.Resolver{
		Store:    store,
		Governor: governor,
		Engine:   eng,
		Auth:     authn,
		Log:      log,
	}
	schema := graphql.MustParseSchema(graph.Schema, resolver, graphql.MaxParallelism(20))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))

	router.Handle("/", playgroundHandler())
	router.Handle("/query", dataloader.Middleware(store, &relay.Handler{Schema: schema}))
	router.Handle("/ws", events.Handler(bus, log))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("connect for GraphQL playground", zap.String("url", "http://localhost:"+cfg.Port+"/"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres_dsn must be set for postgres storage")
		}
		return pgstore.New(dsn)
	case config.StorageFirestore:
		return fsstore.New(ctx, cfg.FirestoreProject, cfg.FirestoreCreds)
	default:
		return inmemory.New(), nil
	}
}

// requestLogger логирует каждый HTTP-запрос через zap вместо стандартного
// логгера chi.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func playgroundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(playgroundHTML))
	})
}

const playgroundHTML = `<!DOCTYPE html>
<html>
<head>
	<title>GraphQL playground</title>
	<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphiql@3/graphiql.min.css" />
</head>
<body style="margin:0;">
	<div id="graphiql" style="height:100vh;"></div>
	<script src="https://cdn.jsdelivr.net/npm/react@18/umd/react.production.min.js"></script>
	<script src="https://cdn.jsdelivr.net/npm/react-dom@18/umd/react-dom.production.min.js"></script>
	<script src="https://cdn.jsdelivr.net/npm/graphiql@3/graphiql.min.js"></script>
	<script>
		ReactDOM.createRoot(document.getElementById('graphiql')).render(
			React.createElement(GraphiQL, { fetcher: GraphiQL.createFetcher({ url: '/query' }) })
		);
	</script>
</body>
</html>`

func fillWithMockData(eng *engine.Engine, log *zap.Logger) {
	ctx := context.Background()

	// 1. Создаем пользователя-автора и проверяем ошибку.
	author, err := eng.CreateUser(ctx, engine.NewUserInput{
		Handle:    "gopher",
		FirstName: "Грэйс",
		LastName:  "Хоппер",
		Age:       37,
		Country:   "USA",
	})
	if err != nil {
		log.Fatal("fillWithMockData: failed to create author", zap.Error(err))
	}

	// 2. Второй пользователь для комментариев и апвоутов.
	reader, err := eng.CreateUser(ctx, engine.NewUserInput{Handle: "reader42"})
	if err != nil {
		log.Fatal("fillWithMockData: failed to create reader", zap.Error(err))
	}

	// 3. Создаем блог от имени автора.
	blog, err := eng.CreateBlog(ctx,
		engine.Credentials{Handle: author.Handle, Secret: author.Secret},
		engine.CreateBlogInput{
			Title:   "Тестовый блог о GraphQL",
			Content: "Это содержимое тестового блога. Здесь мы обсуждаем GraphQL и Go.",
		})
	if err != nil {
		log.Fatal("fillWithMockData: failed to create blog", zap.Error(err))
	}

	// 4. Читатель ставит апвоут и оставляет комментарий.
	readerCreds := engine.Credentials{Handle: reader.Handle, Secret: reader.Secret}
	if _, err := eng.UpvoteBlog(ctx, readerCreds, blog.ID); err != nil {
		log.Fatal("fillWithMockData: failed to upvote blog", zap.Error(err))
	}
	if _, err := eng.CreateComment(ctx, readerCreds, blog.ID, "Отличный блог! Очень информативно."); err != nil {
		log.Fatal("fillWithMockData: failed to create comment", zap.Error(err))
	}

	log.Info("mock data filled successfully",
		zap.String("blog_id", blog.ID),
		zap.String("author_secret", author.Secret),
		zap.String("reader_secret", reader.Secret),
	)
}
