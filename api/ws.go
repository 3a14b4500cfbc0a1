package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamEvents upgrades to a WebSocket and writes every committed event as
// JSON. ?principal= restricts the stream to events touching that principal.
func (s *server) streamEvents(c *gin.Context) {
	var filter func(domain.Event) bool
	if p := domain.NewPrincipal(c.Query("principal")); !p.IsZero() {
		filter = events.ForPrincipal(p)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warn("[API] WebSocket upgrade failed", "error", err)
		return
	}
	// the read side only handles control frames and notices the client leaving
	gone := make(chan struct{})
	defer func() {
		conn.Close()
		<-gone
	}()

	sub := s.Bus.Subscribe(events.DefaultBuffer, filter)
	defer sub.Close()
	s.Logger.Info("[API] 🔌 Event stream opened", "remote", conn.RemoteAddr().String())

	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.Logger.Info("[API] Event stream closed by client")
			return
		case <-c.Request.Context().Done():
			return
		case e := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.Logger.Warn("[API] Event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
