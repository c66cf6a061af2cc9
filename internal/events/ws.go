package events

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler отдает live-ленту событий по websocket: каждое закоммиченное
// событие уходит подписчику отдельным JSON-сообщением.
func Handler(bus *Bus, log *zap.Logger) http.Handler {
	log = log.Named("events-ws")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		id, ch := bus.Subscribe()
		defer bus.Unsubscribe(id)
		defer conn.Close()

		// читатель нужен только чтобы заметить закрытие соединения
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(e); err != nil {
					log.Info("subscriber disconnected", zap.String("subscriber", id))
					return
				}
			}
		}
	})
}
