package broker

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS layer in front of the router.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and forwards every publication on topic as a
// text frame. The subscription ends on client disconnect or after the idle
// timeout with no traffic.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request, topic string, idleTimeout time.Duration, log zerolog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("ws: upgrade failed")
		return
	}
	defer conn.Close()

	sub := b.Subscribe(topic)
	defer sub.Close()

	// Reader goroutine only detects disconnect; clients never send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case payload := <-sub.C:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("topic", topic).Msg("ws: write failed")
				return
			}
		case <-idle.C:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"),
				time.Now().Add(time.Second))
			return
		case <-sub.Done():
			return
		case <-done:
			return
		}
	}
}
