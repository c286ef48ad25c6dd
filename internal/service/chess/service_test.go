package chess

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/domain"
	"github.com/park285/cheese-coach/internal/recognizer"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testService struct {
	*Service
	repo   *memrepo
	events *recordingPublisher
	rated  *atomic.Int32
}

func newTestService(t *testing.T, opts ...Option) testService {
	t.Helper()
	engine := corechess.NewEngine(corechess.Options{Seed: 42})
	repo := NewMemoryRepository().(*memrepo)
	events := &recordingPublisher{}
	rated := &atomic.Int32{}
	counting := func(stats domain.UserStats, g *domain.GameSession) domain.UserStats {
		rated.Add(1)
		return ApplyRating(stats, g)
	}
	all := append([]Option{WithPublisher(events), WithRatingUpdater(counting)}, opts...)
	svc, err := NewService(engine, NewMemorySessionStore(), repo, Config{}, nil, all...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return testService{Service: svc, repo: repo, events: events, rated: rated}
}

func settings(difficulty, color string) domain.GameSettings {
	return domain.GameSettings{
		TimeControl: domain.TimeControl{Initial: 600, Increment: 5},
		Difficulty:  difficulty,
		Color:       color,
	}
}

func TestCreateGameBeginnerAsBlackHasBotOpening(t *testing.T) {
	svc := newTestService(t)
	g, err := svc.CreateGame(context.Background(), "p1", CreateGameRequest{Settings: settings("beginner", "black")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if len(g.Moves) != 1 || g.Moves[0].Actor != domain.ActorBot {
		t.Fatalf("moves = %+v, want a single bot move", g.Moves)
	}
	if g.PlayerColor != domain.Black || g.Position.Turn != domain.Black {
		t.Fatalf("color=%s turn=%s", g.PlayerColor, g.Position.Turn)
	}
	if g.ID == "" || g.Status != domain.StatusActive {
		t.Fatalf("unexpected session %+v", g)
	}
	if types := svc.events.types(); len(types) != 1 || types[0] != EventCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateGameAcceptsHistoricalMaximumLabel(t *testing.T) {
	svc := newTestService(t)
	g, err := svc.CreateGame(context.Background(), "p1", CreateGameRequest{Settings: settings("Stockfish", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Settings.Difficulty != "stockfish" || len(g.Moves) != 0 {
		t.Fatalf("settings=%+v moves=%d", g.Settings, len(g.Moves))
	}
}

func TestCreateGameRandomColorResolved(t *testing.T) {
	svc := newTestService(t)
	for i := 0; i < 4; i++ {
		g, err := svc.CreateGame(context.Background(), "p1", CreateGameRequest{Settings: settings("beginner", "random")})
		if err != nil {
			t.Fatalf("CreateGame: %v", err)
		}
		if !g.PlayerColor.Valid() || g.Settings.Color != ColorRandom {
			t.Fatalf("color=%q settings=%q", g.PlayerColor, g.Settings.Color)
		}
		wantMoves := 0
		if g.PlayerColor == domain.Black {
			wantMoves = 1
		}
		if len(g.Moves) != wantMoves {
			t.Fatalf("color %s: moves = %d", g.PlayerColor, len(g.Moves))
		}
	}
}

func TestCreateGameValidation(t *testing.T) {
	cases := map[string]domain.GameSettings{
		"initial too short": {TimeControl: domain.TimeControl{Initial: 59}, Difficulty: "beginner", Color: "white"},
		"initial too long":  {TimeControl: domain.TimeControl{Initial: 3601}, Difficulty: "beginner", Color: "white"},
		"increment high":    {TimeControl: domain.TimeControl{Initial: 60, Increment: 61}, Difficulty: "beginner", Color: "white"},
		"increment low":     {TimeControl: domain.TimeControl{Initial: 60, Increment: -1}, Difficulty: "beginner", Color: "white"},
		"difficulty":        {TimeControl: domain.TimeControl{Initial: 60}, Difficulty: "grandmaster", Color: "white"},
		"color":             {TimeControl: domain.TimeControl{Initial: 60}, Difficulty: "beginner", Color: "green"},
	}
	svc := newTestService(t)
	for name, s := range cases {
		if _, err := svc.CreateGame(context.Background(), "p1", CreateGameRequest{Settings: s}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", name, err)
		}
	}
	list, err := svc.History(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected settings created %d sessions", len(list))
	}

	bounds := []domain.TimeControl{{Initial: 60, Increment: 0}, {Initial: 3600, Increment: 60}}
	for _, tc := range bounds {
		s := settings("beginner", "white")
		s.TimeControl = tc
		if _, err := svc.CreateGame(context.Background(), "p1", CreateGameRequest{Settings: s}); err != nil {
			t.Fatalf("bound %+v rejected: %v", tc, err)
		}
	}
}

func TestPlayMoveIllegalLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "black")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	_, err = svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "e5", To: "e4"})
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	after, err := svc.Game(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if len(after.Moves) != len(g.Moves) || after.Position != g.Position {
		t.Fatalf("session changed after illegal move")
	}
}

func TestPlayMoveIntoSelfCheckRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	pinned := "4k3/4r3/8/8/8/8/4B3/4K3 w - - 0 1"
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white"), FEN: pinned})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "e2", To: "d3"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	after, err := svc.Game(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if len(after.Moves) != 0 || after.Position.FEN != g.Position.FEN {
		t.Fatalf("session changed after illegal move")
	}
}

func TestPlayMoveAppliesBotReply(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("intermediate", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	out, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "E2", To: "e4"})
	if err != nil {
		t.Fatalf("PlayMove: %v", err)
	}
	if out.BotMove == nil || out.PlayerMove == nil || out.PlayerMove.SAN != "e4" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Game.Moves) != 2 || out.Game.Position.Turn != domain.White {
		t.Fatalf("moves=%d turn=%s", len(out.Game.Moves), out.Game.Position.Turn)
	}
}

func TestUnknownSessionIsInvalidSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.PlayMove(ctx, "p1", "nope", domain.MoveRequest{From: "e2", To: "e4"})
	if !errors.Is(err, ErrInvalidSession) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("move err = %v", err)
	}
	_, err = svc.Resign(ctx, "p1", "nope")
	if !errors.Is(err, ErrInvalidSession) || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("resign err = %v", err)
	}
	if _, err := svc.Game(ctx, "p1", "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("game err = %v", err)
	}
}

func TestOtherPlayersSessionHidden(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := svc.Game(ctx, "p2", g.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("game err = %v", err)
	}
	if _, err := svc.Resign(ctx, "p2", g.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("resign err = %v", err)
	}
}

func TestMateRatesOnceAndArchives(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("advanced", "white"), FEN: backRankFEN})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	out, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "a1", To: "a8"})
	if err != nil {
		t.Fatalf("PlayMove: %v", err)
	}
	if out.Game.Status != domain.StatusCheckmate || out.BotMove != nil {
		t.Fatalf("status=%s bot=%v", out.Game.Status, out.BotMove)
	}
	if out.Stats == nil || out.Stats.Rating != domain.InitialRating+20 || out.Stats.Wins != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
	if n := svc.rated.Load(); n != 1 {
		t.Fatalf("rating updates = %d, want 1", n)
	}

	if _, err := svc.Resign(ctx, "p1", g.ID); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("resign after mate: err = %v", err)
	}
	if _, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "g1", To: "f1"}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("move after mate: err = %v", err)
	}
	if n := svc.rated.Load(); n != 1 {
		t.Fatalf("rating updates after rejected calls = %d, want 1", n)
	}

	archived, err := svc.repo.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if archived.Status != domain.StatusCheckmate {
		t.Fatalf("archived status = %s", archived.Status)
	}
	types := svc.events.types()
	if len(types) != 3 || types[1] != EventMove || types[2] != EventFinished {
		t.Fatalf("events = %v", types)
	}
}

func TestConcurrentResignRatesOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resign(ctx, "p1", g.ID)
			switch {
			case err == nil:
				successes.Add(1)
			case !errors.Is(err, ErrInvalidSession):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("successful resigns = %d, want 1", successes.Load())
	}
	if n := svc.rated.Load(); n != 1 {
		t.Fatalf("rating updates = %d, want 1", n)
	}
	stats, err := svc.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Losses != 1 || stats.Rating != domain.InitialRating-15 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFavoriteOpeningRecorded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("PlayMove: %v", err)
	}
	if _, err := svc.Resign(ctx, "p1", g.ID); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	stats, err := svc.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.FavoriteOpenings) != 1 || stats.FavoriteOpenings[0].Count != 1 || stats.FavoriteOpenings[0].Name == "" {
		t.Fatalf("favorite openings = %+v", stats.FavoriteOpenings)
	}
}

func TestHistoryMergesLiveAndArchived(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	first, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := svc.Resign(ctx, "p1", first.ID); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if _, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	list, err := svc.History(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("history = %d entries, want 2 (no duplicates)", len(list))
	}
	limited, err := svc.History(ctx, "p1", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestAnalyzeCountsAndStores(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Analyze(ctx, "p1", AnalyzeRequest{FEN: corechess.StartFEN, Depth: 2})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.BestMove == nil || res.Depth != 2 {
		t.Fatalf("result = %+v", res)
	}
	stats, err := svc.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalAnalyses != 1 || stats.TotalGames != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	stored := svc.repo.analysesFor("p1")
	if len(stored) != 1 || stored[0].ID != res.ID {
		t.Fatalf("stored analyses = %+v", stored)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	for _, fen := range []string{"", "not a fen"} {
		if _, err := svc.Analyze(context.Background(), "p1", AnalyzeRequest{FEN: fen}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("fen %q: err = %v", fen, err)
		}
	}
	if _, err := svc.Analyze(context.Background(), "p1", AnalyzeRequest{FEN: corechess.StartFEN, Depth: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative depth accepted")
	}
}

func TestAnalyzeImage(t *testing.T) {
	ctx := context.Background()
	rec, err := recognizer.New(corechess.NewOracle(), recognizer.Options{Seed: 3})
	if err != nil {
		t.Fatalf("recognizer.New: %v", err)
	}
	svc := newTestService(t, WithRecognizer(rec))
	out, err := svc.AnalyzeImage(ctx, "p1", []byte("png-bytes"), 1)
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if out.Recognition.Confidence < 85 || out.Recognition.Confidence > 95 {
		t.Fatalf("confidence = %d", out.Recognition.Confidence)
	}
	if out.Analysis.Position.FEN != out.Recognition.Position.FEN {
		t.Fatalf("analysis ran on a different position")
	}
	if _, err := svc.AnalyzeImage(ctx, "p1", nil, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty image err = %v", err)
	}

	bare := newTestService(t)
	if _, err := bare.AnalyzeImage(ctx, "p1", []byte("x"), 1); !errors.Is(err, ErrRecognizerUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

// failingRepo fails FinishGame a fixed number of times before delegating.
type failingRepo struct {
	Repository
	mu       sync.Mutex
	failures int
}

func (r *failingRepo) FinishGame(ctx context.Context, g *domain.GameSession, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return domain.UserStats{}, errors.New("db down")
	}
	return r.Repository.FinishGame(ctx, g, fn)
}

func TestResignKeepsGameActiveWhenRatingFails(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository().(*memrepo)
	repo := &failingRepo{Repository: mem, failures: 1}
	var rated atomic.Int32
	counting := func(stats domain.UserStats, g *domain.GameSession) domain.UserStats {
		rated.Add(1)
		return ApplyRating(stats, g)
	}
	svc, err := NewService(corechess.NewEngine(corechess.Options{Seed: 42}), NewMemorySessionStore(), repo, Config{}, nil,
		WithRatingUpdater(counting))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("beginner", "white")})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	if _, err := svc.Resign(ctx, "p1", g.ID); err == nil || errors.Is(err, ErrInvalidSession) {
		t.Fatalf("resign with failing repository: err = %v", err)
	}
	live, err := svc.Game(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if live.Status != domain.StatusActive || live.Result != nil {
		t.Fatalf("session after failed resign: status=%s result=%+v", live.Status, live.Result)
	}
	if _, err := mem.GetGame(ctx, g.ID); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("game archived after failed resign: err = %v", err)
	}
	if rated.Load() != 0 {
		t.Fatalf("rating updates = %d, want 0", rated.Load())
	}

	done, err := svc.Resign(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("retry Resign: %v", err)
	}
	if done.Status != domain.StatusResignation {
		t.Fatalf("status = %s", done.Status)
	}
	if rated.Load() != 1 {
		t.Fatalf("rating updates = %d, want 1", rated.Load())
	}
	stats, err := svc.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalGames != 1 || stats.Losses != 1 || stats.Rating != domain.InitialRating-15 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMateWithFailingRepositoryLeavesMoveUnplayed(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{Repository: NewMemoryRepository(), failures: 1}
	svc, err := NewService(corechess.NewEngine(corechess.Options{Seed: 42}), NewMemorySessionStore(), repo, Config{}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	g, err := svc.CreateGame(ctx, "p1", CreateGameRequest{Settings: settings("advanced", "white"), FEN: backRankFEN})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "a1", To: "a8"}); err == nil {
		t.Fatalf("mating move committed although the archive failed")
	}
	live, err := svc.Game(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if live.Status != domain.StatusActive || len(live.Moves) != 0 || live.Position.FEN != g.Position.FEN {
		t.Fatalf("session changed: status=%s moves=%d fen=%s", live.Status, len(live.Moves), live.Position.FEN)
	}

	out, err := svc.PlayMove(ctx, "p1", g.ID, domain.MoveRequest{From: "a1", To: "a8"})
	if err != nil {
		t.Fatalf("retry PlayMove: %v", err)
	}
	if out.Game.Status != domain.StatusCheckmate || out.Stats == nil || out.Stats.Wins != 1 {
		t.Fatalf("status=%s stats=%+v", out.Game.Status, out.Stats)
	}
}
