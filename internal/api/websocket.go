package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/auth"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
	"github.com/onehubexpress/search/internal/orchestrator"
	"github.com/onehubexpress/search/internal/suggest"
)

const (
	wsReadLimit     = 4 << 10
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 5 * time.Second
	wsPingPeriod    = 50 * time.Second
)

// wsQuery is sent by the client on every keystroke.
type wsQuery struct {
	Query       string `json:"query"`
	ServiceType string `json:"serviceType"`
}

type wsReply struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
	Source      string   `json:"source,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	allowAny := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAny = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAny || origin == "" || allowed[origin]
		},
	}
}

// SuggestionsWS streams debounced suggestions. Replies for a query the user
// has already typed past are dropped by the session, never sent.
func (h *Handler) SuggestionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("suggestion websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	observability.ActiveConnections.WithLabelValues("ws").Inc()
	defer observability.ActiveConnections.WithLabelValues("ws").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID := auth.UserIDFromContext(r.Context())

	var writeMu sync.Mutex
	deliver := func(u suggest.Update) {
		reply := wsReply{Query: u.Query, Suggestions: u.Suggestions, Source: u.Source}
		if reply.Suggestions == nil {
			reply.Suggestions = []string{}
		}
		if u.Err != nil {
			reply.Error = wsErrorText(u.Err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Debug("suggestion websocket write failed", zap.Error(err))
			cancel()
		}
	}

	session := suggest.NewSession(ctx, h.searcher, h.suggestOpts, deliver, h.logger)
	defer session.Close()

	go h.pingLoop(ctx, conn)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		var msg wsQuery
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("suggestion websocket closed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		session.Type(models.SearchRequest{
			Query:       truncate(msg.Query, maxQueryLen),
			ServiceType: models.ParseServiceCategory(msg.ServiceType),
			UserID:      userID,
		})
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline)); err != nil {
				return
			}
		}
	}
}

func wsErrorText(err error) string {
	if errors.Is(err, orchestrator.ErrSignInRequired) {
		return "Please sign in to search"
	}
	return "Suggestions are temporarily unavailable"
}
