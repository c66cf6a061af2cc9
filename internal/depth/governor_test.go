package depth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UkralStul/graphql-blog-service/internal/errs"
)

func newTestGovernor(t *testing.T, maxDepth int) *Governor {
	g := New(maxDepth, time.Minute, zap.NewNop())
	t.Cleanup(g.Close)
	return g
}

func TestGovernor_RegisterAndValidate(t *testing.T) {
	g := newTestGovernor(t, 3)

	key := g.Register("client-1")
	require.NotEmpty(t, key)

	assert.NoError(t, g.Validate(key, 0))
	assert.NoError(t, g.Validate(key, 2))
}

func TestGovernor_UnknownKey(t *testing.T) {
	g := newTestGovernor(t, 3)

	err := g.Validate("never-registered", 0)
	require.Error(t, err)
	assert.Equal(t, errs.CodeDenied, errs.CodeOf(err))
}

func TestGovernor_DepthViolation(t *testing.T) {
	g := newTestGovernor(t, 3)
	key := g.Register("client-1")

	// ровно на лимите - успех (с предупреждением в лог)
	assert.NoError(t, g.Validate(key, 3))

	err := g.Validate(key, 4)
	require.Error(t, err)
	assert.Equal(t, errs.CodeDepthViolation, errs.CodeOf(err))
}

func TestGovernor_MonotonicMerge(t *testing.T) {
	g := newTestGovernor(t, 10)
	key := g.Register("client-1")

	// порядок вызовов не влияет на итоговую глубину
	require.NoError(t, g.Validate(key, 5))
	require.NoError(t, g.Validate(key, 2))

	g.mu.Lock()
	depth := g.entries[key].depth
	g.mu.Unlock()
	assert.Equal(t, 5, depth)
}

func TestGovernor_RejectionDoesNotCorruptState(t *testing.T) {
	g := newTestGovernor(t, 3)
	key := g.Register("client-1")

	require.NoError(t, g.Validate(key, 0))
	require.Error(t, g.Validate(key, 5))

	// ключ остается рабочим для глубин в пределах лимита
	assert.NoError(t, g.Validate(key, 2))

	g.mu.Lock()
	depth := g.entries[key].depth
	g.mu.Unlock()
	assert.Equal(t, 2, depth)
}

func TestGovernor_Eviction(t *testing.T) {
	g := newTestGovernor(t, 3)
	key := g.Register("client-1")
	require.NoError(t, g.Validate(key, 0))

	// сдвигаем часы за пределы окна
	g.mu.Lock()
	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	g.mu.Unlock()

	err := g.Validate(key, 0)
	require.Error(t, err)
	assert.Equal(t, errs.CodeDenied, errs.CodeOf(err))
}

func TestGovernor_SweepEvictsExpired(t *testing.T) {
	g := newTestGovernor(t, 3)
	key := g.Register("client-1")

	g.mu.Lock()
	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	g.mu.Unlock()

	g.evictExpired()

	g.mu.Lock()
	_, ok := g.entries[key]
	g.mu.Unlock()
	assert.False(t, ok)
}

func TestGovernor_Finish(t *testing.T) {
	g := newTestGovernor(t, 3)
	key := g.Register("client-1")
	g.Finish(key)

	err := g.Validate(key, 0)
	assert.Equal(t, errs.CodeDenied, errs.CodeOf(err))
}

func TestGovernor_ConcurrentValidates(t *testing.T) {
	g := newTestGovernor(t, 100)
	key := g.Register("client-1")

	var wg sync.WaitGroup
	for d := 0; d < 50; d++ {
		wg.Add(1)
		go func(depth int) {
			defer wg.Done()
			assert.NoError(t, g.Validate(key, depth))
		}(d)
	}
	wg.Wait()

	g.mu.Lock()
	depth := g.entries[key].depth
	g.mu.Unlock()
	assert.Equal(t, 49, depth)
}
