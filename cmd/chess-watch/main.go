package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-coach/internal/apiclient"
	"github.com/park285/cheese-coach/internal/msgcat"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

// chess-watch checks the API and follows one game's live feed until it ends.
func main() {
	baseURL := os.Getenv("CHESS_BASE_URL")
	wsURL := os.Getenv("CHESS_WS_URL")
	userID := os.Getenv("X_USER_ID")

	if baseURL == "" {
		log.Fatal("CHESS_BASE_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: chess-watch <game-id>")
	}
	gameID := os.Args[1]
	msgs := msgcat.MustDefault()

	client := apiclient.NewClient(baseURL,
		apiclient.WithUserID(userID),
		apiclient.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	g, err := client.Game(ctx, gameID)
	cancel()
	if err != nil {
		log.Fatalf("game %s: %v", gameID, err)
	}
	log.Printf("game %s: status=%s fen=%s moves=%d", g.ID, g.Status, g.FEN, len(g.Moves))
	if g.Status != "active" {
		fmt.Println(finishedLine(msgs, g))
		return
	}

	if wsURL == "" {
		log.Println("CHESS_WS_URL not set; skipping live feed")
		return
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watcher := apiclient.NewWatcher(wsURL, apiclient.WithWatchUserID(userID), apiclient.WithReconnect(5))
	err = watcher.Watch(sigCtx, gameID, func(ev chessdto.GameEvent) {
		switch {
		case ev.Type == "finished" && ev.Game != nil:
			fmt.Println(finishedLine(msgs, ev.Game))
			if ev.Stats != nil {
				fmt.Printf("rating %d (%dW %dL %dD)\n", ev.Stats.Rating, ev.Stats.Wins, ev.Stats.Losses, ev.Stats.Draws)
			}
		case ev.BotMove != nil:
			fmt.Printf("bot played %s\n", ev.BotMove.SAN)
		default:
			fmt.Printf("%s event\n", ev.Type)
		}
	})
	if err != nil && sigCtx.Err() == nil {
		log.Printf("watch error: %v", err)
	}
}

func finishedLine(msgs *msgcat.Catalog, g *chessdto.Game) string {
	outcome := ""
	if g.Result != nil {
		outcome = g.Result.Outcome
	}
	return msgs.Text("game.finished", map[string]string{"Status": g.Status, "Outcome": outcome}, g.Status)
}
