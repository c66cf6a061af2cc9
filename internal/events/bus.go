package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Типы событий, публикуемых движком мутаций после коммита.
const (
	TypeUserCreated    = "user.created"
	TypeBlogCreated    = "blog.created"
	TypeBlogUpvoted    = "blog.upvoted"
	TypeUpvoteRemoved  = "upvote.removed"
	TypeCommentCreated = "comment.created"
)

// Event - закоммиченная мутация, доставляемая подписчикам live-ленты.
type Event struct {
	Type      string `json:"type"`
	BlogID    string `json:"blogId,omitempty"`
	EntityID  string `json:"entityId"`
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
}

// Bus рассылает события всем подписчикам. Отправка неблокирующая:
// подписчик, не успевающий читать, пропускает события.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	log  *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
		log:  log.Named("event-bus"),
	}
}

// Subscribe регистрирует подписчика и возвращает его id и канал событий.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe снимает подписку и закрывает канал.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish рассылает событие без блокировки.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("subscriber is too slow, dropping event",
				zap.String("subscriber", id), zap.String("type", e.Type))
		}
	}
}
