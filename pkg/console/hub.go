package console

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsClientBuffer = 32
)

// Event is one message on the console websocket.
type Event struct {
	Type    string         `json:"type"`
	Page    string         `json:"page,omitempty"`
	FlowID  string         `json:"flow_id,omitempty"`
	Message string         `json:"message,omitempty"`
	Session *authflow.View `json:"session,omitempty"`
	At      time.Time      `json:"at"`
}

const (
	EventList     = "list"
	EventNotify   = "notify"
	EventFlow     = "flow"
	EventFlowDone = "flow_done"
)

// clientSearch is the one message clients send: search text typed into a
// page's search box.
type clientSearch struct {
	Type string `json:"type"`
	Page string `json:"page"`
	Text string `json:"text"`
}

const clientSearchType = "search"

type wsClient struct {
	ch chan []byte
}

// hub fans events out to websocket clients. Slow clients lose events rather
// than block the publisher.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	now     func() time.Time
}

func newHub() *hub {
	return &hub{clients: map[*wsClient]struct{}{}, now: time.Now}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = h.now().UTC()
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- msg:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.ch)
	}
}

func sameOrigin(req *http.Request) bool {
	origin := strings.TrimSpace(req.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, req.Host)
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: sameOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	client := &wsClient{ch: make(chan []byte, wsClientBuffer)}
	s.hub.register(client)
	defer s.hub.unregister(client)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.clientMessage(raw)
		}
	}()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// clientMessage applies a search typed on a page. The fetch is debounced by
// the page's list; the result goes out as a list event.
func (s *Server) clientMessage(raw []byte) {
	var msg clientSearch
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != clientSearchType {
		s.logger.Debug("ignoring websocket message", "len", len(raw))
		return
	}
	p, err := s.pages.Get(msg.Page)
	if err != nil {
		return
	}
	if method, path := p.Permission("view"); !s.session.Can(method, path) {
		return
	}
	p.Search(msg.Text)
}
