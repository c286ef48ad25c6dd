package livefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-coach/internal/domain"
	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

func testSession(id, player string) *domain.GameSession {
	return &domain.GameSession{
		ID:          id,
		PlayerID:    player,
		PlayerColor: domain.White,
		StartFEN:    "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		Position:    domain.Position{FEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", Turn: domain.White},
		Status:      domain.StatusActive,
		StartedAt:   time.Now(),
	}
}

func TestPublishDeliversToOwner(t *testing.T) {
	h := NewHub(Options{Buffer: 2})
	mine, cancelMine := h.Subscribe("g1", "alice")
	defer cancelMine()
	other, cancelOther := h.Subscribe("g1", "mallory")
	defer cancelOther()

	h.Publish(svcchess.Event{Type: svcchess.EventMove, Game: testSession("g1", "alice")})

	select {
	case ev := <-mine:
		if ev.Type != "move" || ev.GameID != "g1" || ev.Game == nil {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatalf("owner did not receive event")
	}
	select {
	case ev := <-other:
		t.Fatalf("non-owner received %+v", ev)
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	h := NewHub(Options{Buffer: 1})
	ch, cancel := h.Subscribe("g1", "alice")
	defer cancel()

	game := testSession("g1", "alice")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(svcchess.Event{Type: svcchess.EventMove, Game: game})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

func TestUnsubscribeRemovesWatcher(t *testing.T) {
	h := NewHub(Options{})
	_, cancel := h.Subscribe("g1", "alice")
	if h.Subscribers("g1") != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers("g1"))
	}
	cancel()
	cancel()
	if h.Subscribers("g1") != 0 {
		t.Fatalf("subscribers after cancel = %d", h.Subscribers("g1"))
	}
	h.Publish(svcchess.Event{Type: svcchess.EventMove, Game: testSession("g1", "alice")})
}

func waitSubscribers(t *testing.T, h *Hub, gameID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(gameID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", h.Subscribers(gameID), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketStreamClosesOnFinish(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game/g7"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{HeaderUserID: []string{"alice"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitSubscribers(t, h, "g7", 1)

	game := testSession("g7", "alice")
	h.Publish(svcchess.Event{Type: svcchess.EventMove, Game: game, BotMove: &domain.Move{From: "e7", To: "e5", SAN: "e5", UCI: "e7e5"}})

	finished := game.Clone()
	finished.Status = domain.StatusResignation
	finished.Result = &domain.GameResult{Outcome: domain.OutcomeLoss, Winner: domain.Black, Method: "resignation"}
	stats := domain.NewUserStats("alice")
	h.Publish(svcchess.Event{Type: svcchess.EventFinished, Game: finished, Stats: &stats})

	var first chessdto.GameEvent
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read move: %v", err)
	}
	if first.Type != "move" || first.BotMove == nil || first.BotMove.UCI != "e7e5" {
		t.Fatalf("first = %+v", first)
	}
	var second chessdto.GameEvent
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read finished: %v", err)
	}
	if second.Type != "finished" || second.Stats == nil || second.Game.Status != "resignation" {
		t.Fatalf("second = %+v", second)
	}

	var extra chessdto.GameEvent
	err = wsjson.Read(ctx, conn, &extra)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("close err = %v", err)
	}
	waitSubscribers(t, h, "g7", 0)
}
