package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-coach/pkg/chessdto"
)

type EventCallback func(ev chessdto.GameEvent)

type WatchOption func(*Watcher)

func WithWatchUserID(id string) WatchOption {
	return func(w *Watcher) { w.userID = strings.TrimSpace(id) }
}

func WithWatchHeaders(h HeaderProvider) WatchOption {
	return func(w *Watcher) { w.headers = h }
}

// WithReconnect sets how many times a dropped feed is redialed.
func WithReconnect(attempts int) WatchOption {
	return func(w *Watcher) { w.maxReconnectAttempts = attempts }
}

func WithPingInterval(d time.Duration) WatchOption {
	return func(w *Watcher) { w.pingInterval = d }
}

// Watcher follows the live feed of one game at a time.
type Watcher struct {
	baseURL string
	userID  string
	headers HeaderProvider

	maxReconnectAttempts int
	pingInterval         time.Duration
}

// NewWatcher takes the ws:// or wss:// base of the live feed listener.
func NewWatcher(baseURL string, opts ...WatchOption) *Watcher {
	w := &Watcher{
		baseURL:              strings.TrimRight(baseURL, "/"),
		maxReconnectAttempts: 3,
		pingInterval:         30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch blocks until the game finishes, the server closes the feed normally,
// ctx ends, or reconnecting fails.
func (w *Watcher) Watch(ctx context.Context, gameID string, cb EventCallback) error {
	if strings.TrimSpace(gameID) == "" {
		return errors.New("watch: game id required")
	}
	target := w.baseURL + "/ws/game/" + url.PathEscape(gameID)

	failures := 0
	for {
		finished, err := w.stream(ctx, target, cb)
		if finished {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		failures++
		if failures > w.maxReconnectAttempts {
			return fmt.Errorf("watch %s: %w", gameID, err)
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(failures)); sleepErr != nil {
			return sleepErr
		}
	}
}

// stream reports finished=true once the feed has ended cleanly.
func (w *Watcher) stream(ctx context.Context, target string, cb EventCallback) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      w.buildHeaders(),
	})
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "close")

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.pingLoop(connCtx, conn, stop)

	for {
		var ev chessdto.GameEvent
		if err := wsjson.Read(connCtx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, nil
			}
			return false, err
		}
		if cb != nil {
			cb(ev)
		}
		if ev.Type == "finished" {
			return true, nil
		}
	}
}

func (w *Watcher) pingLoop(ctx context.Context, conn *websocket.Conn, stop context.CancelFunc) {
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures >= 2 {
				stop()
				return
			}
		}
	}
}

func (w *Watcher) buildHeaders() http.Header {
	hdr := http.Header{}
	if w.userID != "" {
		hdr.Set(HeaderUserID, w.userID)
	}
	if w.headers == nil {
		return hdr
	}
	for k, v := range w.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
