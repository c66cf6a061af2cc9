package depth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/errs"
	"github.com/UkralStul/graphql-blog-service/internal/metrics"
)

// Governor ограничивает глубину обхода графа одним запросом. Резолверы
// полей выполняются независимо и в непредсказуемом порядке, поэтому
// глубину нельзя считать по стеку вызовов: Governor держит разделяемую
// карту "ключ запроса -> максимальная достигнутая глубина" и сливает
// конкурентные обновления коммутативным max'ом.
type Governor struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxDepth int
	window   time.Duration

	log  *zap.Logger
	done chan struct{}
	once sync.Once

	now func() time.Time // подменяется в тестах
}

type entry struct {
	depth     int
	client    string
	expiresAt time.Time
}

// New создает Governor и запускает фоновую чистку просроченных ключей.
// window - время жизни ключа запроса; просроченный ключ означает, что
// запрос выполняется слишком долго, и дальнейшие резолверы получают отказ.
func New(maxDepth int, window time.Duration, log *zap.Logger) *Governor {
	g := &Governor{
		entries:  make(map[string]*entry),
		maxDepth: maxDepth,
		window:   window,
		log:      log.Named("depth-governor"),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go g.sweep()
	return g
}

// Register создает ключ для нового входящего запроса с глубиной 0.
// Ключ протаскивается через все stub'ы этого запроса.
func (g *Governor) Register(client string) string {
	key := uuid.NewString()

	g.mu.Lock()
	g.entries[key] = &entry{client: client, expiresAt: g.now().Add(g.window)}
	g.mu.Unlock()

	return key
}

// Validate проверяет глубину depth для ключа key. Возвращает ERR_DENIED,
// если ключ неизвестен или просрочен, ERR_DEPTHVIOLATION при превышении
// лимита. depth == лимиту проходит, но пишет предупреждение. На успехе
// сохраненная глубина обновляется до max(stored, depth) - монотонно,
// поэтому порядок конкурентных вызовов не важен.
func (g *Governor) Validate(key string, depth int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if ok && g.now().After(e.expiresAt) {
		delete(g.entries, key)
		metrics.GovernorEvictions.Inc()
		ok = false
	}
	if !ok {
		g.log.Error("request not found, rejecting request", zap.String("key", key))
		return errs.New(errs.CodeDenied, "unknown or expired request key")
	}

	if depth > g.maxDepth {
		metrics.DepthViolations.Inc()
		g.log.Error("request exceeded depth, rejecting request",
			zap.String("client", e.client), zap.Int("depth", depth))
		return errs.New(errs.CodeDepthViolation, "query depth %d exceeds limit %d", depth, g.maxDepth)
	}
	if depth == g.maxDepth {
		g.log.Warn("client reached max depth", zap.String("client", e.client))
	}

	if depth > e.depth {
		e.depth = depth
	}
	return nil
}

// Finish освобождает состояние запроса, не дожидаясь таймаута.
func (g *Governor) Finish(key string) {
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
}

// Close останавливает фоновую чистку.
func (g *Governor) Close() {
	g.once.Do(func() { close(g.done) })
}

// sweep периодически вытесняет просроченные ключи, чтобы карта не росла
// под нагрузкой из-за брошенных запросов, которые так и не позвали Validate.
func (g *Governor) sweep() {
	interval := g.window / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.evictExpired()
		}
	}
}

func (g *Governor) evictExpired() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, e := range g.entries {
		if now.After(e.expiresAt) {
			delete(g.entries, key)
			metrics.GovernorEvictions.Inc()
		}
	}
}
