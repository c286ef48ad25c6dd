// Package livefeed pushes committed game events to websocket watchers.
package livefeed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

const (
	HeaderUserID   = "X-User-Id"
	defaultPlayer  = "guest"
	defaultBuffer  = 16
	writeTimeout   = 5 * time.Second
	defaultPingGap = 30 * time.Second
)

type Options struct {
	Buffer       int
	PingInterval time.Duration
	Logger       *zap.Logger
}

type subscriber struct {
	playerID string
	ch       chan chessdto.GameEvent
}

// Hub fans events out to subscribers keyed by game id. Publish never blocks;
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	ping   time.Duration
	logger *zap.Logger
}

func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingGap
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		ping:   ping,
		logger: logger,
	}
}

// Publish implements svcchess.EventPublisher.
func (h *Hub) Publish(ev svcchess.Event) {
	if ev.Game == nil {
		return
	}
	msg := chessdto.GameEvent{
		Type:    string(ev.Type),
		GameID:  ev.Game.ID,
		Game:    chessdto.FromGame(ev.Game),
		BotMove: chessdto.FromMove(ev.BotMove),
	}
	if ev.Stats != nil {
		msg.Stats = chessdto.FromStats(*ev.Stats)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Game.ID] {
		if sub.playerID != ev.Game.PlayerID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("livefeed_drop",
				zap.String("game_id", ev.Game.ID),
				zap.String("type", msg.Type),
			)
		}
	}
}

// Subscribe registers a watcher for one game. Only events for sessions owned by
// playerID are delivered. The returned func unregisters and closes the channel.
func (h *Hub) Subscribe(gameID, playerID string) (<-chan chessdto.GameEvent, func()) {
	sub := &subscriber{playerID: playerID, ch: make(chan chessdto.GameEvent, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[gameID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[gameID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[gameID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, gameID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}

// Handler serves GET /ws/game/{id}.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/game/{id}", h.serveGame)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (h *Hub) serveGame(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.PathValue("id"))
	if gameID == "" {
		http.Error(w, "game id required", http.StatusBadRequest)
		return
	}
	playerID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if playerID == "" {
		playerID = defaultPlayer
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("livefeed_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	events, cancel := h.Subscribe(gameID, playerID)
	defer cancel()

	// Watchers never send; CloseRead handles control frames and cancels on disconnect.
	ctx := conn.CloseRead(r.Context())
	h.logger.Info("livefeed_watch", zap.String("game_id", gameID), zap.String("player_id", playerID))

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				h.logger.Debug("livefeed_write_failed", zap.String("game_id", gameID), zap.Error(err))
				return
			}
			if ev.Type == string(svcchess.EventFinished) {
				_ = conn.Close(websocket.StatusNormalClosure, "game finished")
				return
			}
		}
	}
}
