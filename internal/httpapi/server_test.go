package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/recognizer"
	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine := corechess.NewEngine(corechess.Options{Seed: 11})
	rec, err := recognizer.New(engine.Rules(), recognizer.Options{Seed: 5})
	if err != nil {
		t.Fatalf("recognizer.New: %v", err)
	}
	svc, err := svcchess.NewService(engine, svcchess.NewMemorySessionStore(), svcchess.NewMemoryRepository(), svcchess.Config{}, nil, svcchess.WithRecognizer(rec))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, Options{})
}

type call struct {
	method      string
	path        string
	body        string
	user        string
	contentType string
}

func do(t *testing.T, s *Server, c call) (int, []byte) {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(c.method)
	ctx.Request.SetRequestURI(c.path)
	if c.user != "" {
		ctx.Request.Header.Set(HeaderUserID, c.user)
	}
	if c.body != "" {
		ctx.Request.SetBodyString(c.body)
		ct := c.contentType
		if ct == "" {
			ct = "application/json"
		}
		ctx.Request.Header.SetContentType(ct)
	}
	s.Handler()(&ctx)
	return ctx.Response.StatusCode(), append([]byte(nil), ctx.Response.Body()...)
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func createGame(t *testing.T, s *Server, user, body string) chessdto.Game {
	t.Helper()
	status, raw := do(t, s, call{method: "POST", path: "/api/game/create", body: body, user: user})
	if status != fasthttp.StatusOK {
		t.Fatalf("create status %d: %s", status, raw)
	}
	resp := decode[chessdto.GameResponse](t, raw)
	if !resp.Success || resp.Game == nil {
		t.Fatalf("create response %s", raw)
	}
	return *resp.Game
}

func TestAnalyzePositionWireShape(t *testing.T) {
	s := newTestServer(t)
	status, raw := do(t, s, call{method: "POST", path: "/api/analysis/position", body: `{"fen":"startpos","depth":2}`})
	if status != fasthttp.StatusOK {
		t.Fatalf("status %d: %s", status, raw)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("decode: %v", err)
	}
	analysis, ok := generic["analysis"].(map[string]any)
	if generic["success"] != true || !ok {
		t.Fatalf("body = %s", raw)
	}
	for _, key := range []string{"position", "evaluation", "bestMove", "principalVariation", "depth", "confidence", "analysisTime"} {
		if _, ok := analysis[key]; !ok {
			t.Fatalf("analysis missing %q: %s", key, raw)
		}
	}
	eval := analysis["evaluation"].(map[string]any)
	if eval["type"] != "cp" || eval["formatted"] == "" {
		t.Fatalf("evaluation = %v", eval)
	}
	best := analysis["bestMove"].(map[string]any)
	if best["from"] == "" || best["to"] == "" || best["san"] == "" {
		t.Fatalf("bestMove = %v", best)
	}
	if rid := generic["requestId"]; rid != nil {
		t.Fatalf("unexpected field requestId")
	}
}

func TestAnalyzePositionErrors(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		body   string
		status int
	}{
		{``, fasthttp.StatusBadRequest},
		{`{`, fasthttp.StatusBadRequest},
		{`{"fen":"bogus"}`, fasthttp.StatusBadRequest},
		{`{"fen":"startpos","timeout":-1}`, fasthttp.StatusBadRequest},
	}
	for _, tc := range cases {
		status, raw := do(t, s, call{method: "POST", path: "/api/analysis/position", body: tc.body})
		if status != tc.status {
			t.Fatalf("body %q: status %d, want %d", tc.body, status, tc.status)
		}
		resp := decode[chessdto.ErrorResponse](t, raw)
		if resp.Success || resp.Error != chessdto.CodeInvalidInput || resp.Message == "" {
			t.Fatalf("body %q: response %s", tc.body, raw)
		}
	}
}

func TestCreateGameAsBlackReturnsBotMove(t *testing.T) {
	s := newTestServer(t)
	g := createGame(t, s, "alice", `{"settings":{"timeControl":{"initial":300,"increment":0},"difficulty":"beginner","color":"black"}}`)
	if len(g.Moves) != 1 || g.Moves[0].Actor != "bot" {
		t.Fatalf("moves = %+v", g.Moves)
	}
	if g.PlayerColor != "black" || g.Status != "active" || g.Settings.Difficulty != "beginner" {
		t.Fatalf("game = %+v", g)
	}
}

func TestCreateGameValidation(t *testing.T) {
	s := newTestServer(t)
	status, raw := do(t, s, call{method: "POST", path: "/api/game/create", body: `{"settings":{"timeControl":{"initial":30,"increment":0},"difficulty":"beginner","color":"white"}}`})
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("status %d", status)
	}
	if resp := decode[chessdto.ErrorResponse](t, raw); resp.Error != chessdto.CodeInvalidInput {
		t.Fatalf("response %s", raw)
	}
}

func TestIllegalMoveLeavesGameUnchanged(t *testing.T) {
	s := newTestServer(t)
	g := createGame(t, s, "alice", `{"settings":{"timeControl":{"initial":300,"increment":0},"difficulty":"beginner","color":"white"}}`)

	status, raw := do(t, s, call{method: "POST", path: "/api/game/move", user: "alice",
		body: `{"gameId":"` + g.ID + `","move":{"from":"e3","to":"e4"}}`})
	if status != fasthttp.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", status, raw)
	}
	if resp := decode[chessdto.ErrorResponse](t, raw); resp.Success || resp.Error != chessdto.CodeIllegalMove {
		t.Fatalf("response %s", raw)
	}

	status, raw = do(t, s, call{method: "GET", path: "/api/game/" + g.ID, user: "alice"})
	if status != fasthttp.StatusOK {
		t.Fatalf("get status %d", status)
	}
	after := decode[chessdto.GameResponse](t, raw).Game
	if len(after.Moves) != 0 || after.FEN != g.FEN {
		t.Fatalf("game changed: %+v", after)
	}
}

func TestMoveAndResignFlow(t *testing.T) {
	s := newTestServer(t)
	g := createGame(t, s, "bob", `{"settings":{"timeControl":{"initial":300,"increment":2},"difficulty":"intermediate","color":"white"}}`)

	status, raw := do(t, s, call{method: "POST", path: "/api/game/move", user: "bob",
		body: `{"gameId":"` + g.ID + `","move":{"from":"d2","to":"d4"}}`})
	if status != fasthttp.StatusOK {
		t.Fatalf("move status %d: %s", status, raw)
	}
	moved := decode[chessdto.GameResponse](t, raw)
	if moved.BotMove == nil || len(moved.Game.Moves) != 2 {
		t.Fatalf("move response %s", raw)
	}

	status, raw = do(t, s, call{method: "POST", path: "/api/game/" + g.ID + "/resign", user: "bob"})
	if status != fasthttp.StatusOK {
		t.Fatalf("resign status %d: %s", status, raw)
	}
	resigned := decode[chessdto.GameResponse](t, raw).Game
	if resigned.Status != "resignation" || resigned.Result == nil || resigned.Result.Outcome != "loss" {
		t.Fatalf("resigned = %+v", resigned)
	}

	status, raw = do(t, s, call{method: "POST", path: "/api/game/" + g.ID + "/resign", user: "bob"})
	if status != fasthttp.StatusConflict {
		t.Fatalf("second resign status %d", status)
	}
	if resp := decode[chessdto.ErrorResponse](t, raw); resp.Error != chessdto.CodeInvalidSession {
		t.Fatalf("second resign %s", raw)
	}

	status, raw = do(t, s, call{method: "GET", path: "/api/stats", user: "bob"})
	if status != fasthttp.StatusOK {
		t.Fatalf("stats status %d", status)
	}
	stats := decode[chessdto.StatsResponse](t, raw).Stats
	if stats.TotalGames != 1 || stats.Losses != 1 || stats.Rating != 1185 {
		t.Fatalf("stats = %+v", stats)
	}

	status, raw = do(t, s, call{method: "GET", path: "/api/game/history?limit=5", user: "bob"})
	if status != fasthttp.StatusOK {
		t.Fatalf("history status %d", status)
	}
	if h := decode[chessdto.HistoryResponse](t, raw); len(h.Games) != 1 || h.Games[0].ID != g.ID {
		t.Fatalf("history %s", raw)
	}
}

func TestUnknownGame(t *testing.T) {
	s := newTestServer(t)
	status, raw := do(t, s, call{method: "GET", path: "/api/game/missing"})
	if status != fasthttp.StatusNotFound {
		t.Fatalf("get status %d", status)
	}
	if resp := decode[chessdto.ErrorResponse](t, raw); resp.Error != chessdto.CodeNotFound {
		t.Fatalf("get %s", raw)
	}

	status, raw = do(t, s, call{method: "POST", path: "/api/game/move", body: `{"gameId":"missing","move":{"from":"e2","to":"e4"}}`})
	if status != fasthttp.StatusNotFound {
		t.Fatalf("move status %d", status)
	}
	if resp := decode[chessdto.ErrorResponse](t, raw); resp.Error != chessdto.CodeInvalidSession {
		t.Fatalf("move %s", raw)
	}
}

func TestGamesAreScopedByUser(t *testing.T) {
	s := newTestServer(t)
	g := createGame(t, s, "alice", `{"settings":{"timeControl":{"initial":300,"increment":0},"difficulty":"beginner","color":"white"}}`)
	if status, _ := do(t, s, call{method: "GET", path: "/api/game/" + g.ID}); status != fasthttp.StatusNotFound {
		t.Fatalf("guest saw alice's game: %d", status)
	}
}

func TestAnalyzeImageMultipart(t *testing.T) {
	s := newTestServer(t)
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "board.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG fake board"))
	_ = w.Close()

	status, raw := do(t, s, call{method: "POST", path: "/api/analysis/image?depth=1", body: body.String(), contentType: w.FormDataContentType()})
	if status != fasthttp.StatusOK {
		t.Fatalf("status %d: %s", status, raw)
	}
	resp := decode[chessdto.AnalysisResponse](t, raw)
	if resp.Recognition == nil || resp.Recognition.Confidence < 85 || resp.Analysis == nil {
		t.Fatalf("response %s", raw)
	}
}

func TestRoutingErrors(t *testing.T) {
	s := newTestServer(t)
	if status, _ := do(t, s, call{method: "GET", path: "/api/analysis/position"}); status != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("wrong method status %d", status)
	}
	if status, _ := do(t, s, call{method: "GET", path: "/api/nope"}); status != fasthttp.StatusNotFound {
		t.Fatalf("unknown route status %d", status)
	}
	status, raw := do(t, s, call{method: "GET", path: "/healthz"})
	if status != fasthttp.StatusOK || !strings.Contains(string(raw), "ok") {
		t.Fatalf("healthz %d %s", status, raw)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/healthz")
	ctx.Request.Header.Set(headerRequestID, "abcd1234")
	s.Handler()(&ctx)
	if got := string(ctx.Response.Header.Peek(headerRequestID)); got != "abcd1234" {
		t.Fatalf("request id = %q", got)
	}

	var fresh fasthttp.RequestCtx
	fresh.Request.Header.SetMethod("GET")
	fresh.Request.SetRequestURI("/healthz")
	s.Handler()(&fresh)
	if got := string(fresh.Response.Header.Peek(headerRequestID)); len(got) != requestIDLength {
		t.Fatalf("minted request id = %q", got)
	}
}

func TestRouterAllowHeaderAndGameParams(t *testing.T) {
	s := newTestServer(t)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("DELETE")
	ctx.Request.SetRequestURI("/api/stats")
	s.Handler()(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	if allow := string(ctx.Response.Header.Peek(fasthttp.HeaderAllow)); !strings.Contains(allow, "GET") {
		t.Fatalf("Allow = %q", allow)
	}
	if resp := decode[chessdto.ErrorResponse](t, ctx.Response.Body()); resp.Success {
		t.Fatalf("405 body = %s", ctx.Response.Body())
	}

	g := createGame(t, s, "carol", `{"settings":{"timeControl":{"initial":300,"increment":0},"difficulty":"beginner","color":"white"}}`)
	status, raw := do(t, s, call{method: "GET", path: "/api/game/" + g.ID, user: "carol"})
	if status != fasthttp.StatusOK || decode[chessdto.GameResponse](t, raw).Game.ID != g.ID {
		t.Fatalf("get game %d: %s", status, raw)
	}
	status, raw = do(t, s, call{method: "POST", path: "/api/game/" + g.ID + "/resign", user: "carol"})
	if status != fasthttp.StatusOK || decode[chessdto.GameResponse](t, raw).Game.Status != "resignation" {
		t.Fatalf("resign %d: %s", status, raw)
	}
	if status, _ := do(t, s, call{method: "GET", path: "/api/game/" + g.ID + "/resign"}); status != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("GET resign status %d", status)
	}
}
