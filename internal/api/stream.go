package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const streamWriteTimeout = 10 * time.Second

// handleEventStream upgrades the connection and forwards every published
// event until the client goes away. Events for a slow client are dropped
// by the dispatcher, never buffered here.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		http.Error(w, "Event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Websocket upgrade failed: %v", err)
		return
	}

	ch := s.dispatcher.Subscribe()
	defer s.dispatcher.Unsubscribe(ch)
	defer conn.Close()

	// Reader goroutine: we only care about close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	tenant := r.Header.Get("X-Tenant-ID")
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if tenant != "" && evt.TenantID != tenant {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if werr := conn.WriteJSON(evt); werr != nil {
				s.logger.Printf("Websocket write error: %v", werr)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
