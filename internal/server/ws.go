package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"vibe-trader/internal/events"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxReadBytes = 512
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.allowedOrigin,
	}
}

// allowedOrigin accepts the configured frontend and non-browser clients
// that send no Origin header.
func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	want, err := url.Parse(s.opts.FrontendURL)
	if err != nil {
		return false
	}
	got, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, want.Scheme) && strings.EqualFold(got.Host, want.Host)
}

// handleEvents streams the token event feed to one websocket client. The
// connection is pinged every PingInterval and dropped when a pong does not
// arrive before the next ping is due.
func (s *Server) handleEvents(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	feed, cancel := s.deps.Events.Subscribe(events.DefaultBuffer)
	defer cancel()

	log := s.logger.With("remote", c.ClientIP())
	log.Info("event client connected")
	defer log.Info("event client disconnected")

	pongWait := 2 * s.opts.PingInterval
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsMaxReadBytes)
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

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				log.Debug("ping failed", "err", err)
				return
			}
		}
	}
}
