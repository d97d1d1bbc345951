package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB

	defaultInterval = 5 * time.Second
	maxInterval     = 60 * time.Second
)

const (
	wsTypeStatus = "status"
	wsTypeEvent  = "event"
)

// wsEnvelope is the frame written to WebSocket clients.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the operator app has a fixed host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStream is one connected client. Only the loop in run writes to conn.
type wsStream struct {
	conn    *websocket.Conn
	log     *logger.Logger
	attempt string
}

func (s *wsStream) write(frame wsEnvelope) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

func (s *wsStream) ping() error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// wants reports whether an event belongs to the attempt the client follows.
func (s *wsStream) wants(e models.AttemptEvent) bool {
	return s.attempt == "" || s.attempt == e.AttemptID
}

func (s *wsStream) infow(msg string, kv ...interface{}) {
	if s.log != nil {
		s.log.Infow(msg, kv...)
	}
}

// readLoop discards client frames so pongs and close frames are processed.
// done closes when the peer goes away.
func (s *wsStream) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadLimit(maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.infow("ws_read_closed", "err", err)
			return
		}
	}
}

// wsConnect streams attempt step events as they happen, plus a gateway status
// snapshot on connect and every interval. ?attempt=<id> limits events to one
// attempt.
func (h *Handler) wsConnect(c *gin.Context) {
	interval := streamInterval(c.Request.URL.Query())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	s := &wsStream{conn: conn, log: h.log, attempt: c.Query("attempt")}
	done := make(chan struct{})
	go s.readLoop(done)

	events, unsubscribe := h.services.Progress.Subscribe()
	defer unsubscribe()

	h.runStream(c.Request.Context(), s, events, done, interval)
}

func (h *Handler) runStream(ctx context.Context, s *wsStream, events <-chan models.AttemptEvent, done <-chan struct{}, interval time.Duration) {
	snapshot := func(event string) bool {
		st, err := h.services.Monitoring.GetStatus(ctx)
		if err != nil {
			if h.log != nil {
				h.log.Errorw("ws_get_status_failed", "err", err)
			}
			return false
		}
		if err := s.write(wsEnvelope{Type: wsTypeStatus, Data: st}); err != nil {
			s.infow(event, "err", err)
			return false
		}
		return true
	}

	if !snapshot("ws_write_failed_initial") {
		return
	}

	status := time.NewTicker(interval)
	defer status.Stop()
	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := s.ping(); err != nil {
				s.infow("ws_ping_failed", "err", err)
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if !s.wants(e) {
				continue
			}
			if err := s.write(wsEnvelope{Type: wsTypeEvent, Data: e}); err != nil {
				s.infow("ws_write_failed", "err", err)
				return
			}
		case <-status.C:
			if !snapshot("ws_write_failed") {
				return
			}
		}
	}
}

// streamInterval reads ?interval=2s or ?interval_ms=2000. Values outside
// (0, maxInterval] fall back to defaultInterval.
func streamInterval(q url.Values) time.Duration {
	inRange := func(d time.Duration) bool { return d > 0 && d <= maxInterval }

	if d, err := time.ParseDuration(q.Get("interval")); err == nil && inRange(d) {
		return d
	}
	if ms, err := strconv.Atoi(q.Get("interval_ms")); err == nil && ms <= int(maxInterval/time.Millisecond) {
		if d := time.Duration(ms) * time.Millisecond; inRange(d) {
			return d
		}
	}
	return defaultInterval
}
