package httpapi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

var errEmptyBody = fmt.Errorf("%w: request body is empty", svcchess.ErrInvalidInput)

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", svcchess.ErrInvalidInput, msg)
}

func (s *Server) analyzePosition(ctx *fasthttp.RequestCtx) {
	var req chessdto.AnalyzePositionRequest
	if err := decodeBody(ctx, &req); err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	if req.Timeout < 0 {
		s.fail(ctx, invalidInput("timeout must not be negative"), errorDetail{})
		return
	}
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	res, err := s.svc.Analyze(rctx, playerID(ctx), svcchess.AnalyzeRequest{
		FEN:     req.FEN,
		Depth:   req.Depth,
		Timeout: time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.AnalysisResponse{Success: true, Analysis: chessdto.FromAnalysis(res)})
}

// analyzeImage accepts a multipart "image" field or the raw request body.
func (s *Server) analyzeImage(ctx *fasthttp.RequestCtx) {
	image, err := readImage(ctx)
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	depth := 0
	if v := strings.TrimSpace(string(ctx.QueryArgs().Peek("depth"))); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(ctx, invalidInput("depth must be an integer"), errorDetail{})
			return
		}
		depth = n
	}
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	out, err := s.svc.AnalyzeImage(rctx, playerID(ctx), image, depth)
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.AnalysisResponse{
		Success:  true,
		Analysis: chessdto.FromAnalysis(out.Analysis),
		Recognition: &chessdto.Recognition{
			Confidence: out.Recognition.Confidence,
			Opening:    out.Recognition.Opening,
		},
	})
}

func readImage(ctx *fasthttp.RequestCtx) ([]byte, error) {
	if strings.HasPrefix(string(ctx.Request.Header.ContentType()), "multipart/form-data") {
		fh, err := ctx.FormFile("image")
		if err != nil {
			return nil, invalidInput("multipart field \"image\" is required")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return raw, nil
	}
	return append([]byte(nil), ctx.PostBody()...), nil
}

func (s *Server) createGame(ctx *fasthttp.RequestCtx) {
	var req chessdto.CreateGameRequest
	if err := decodeBody(ctx, &req); err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	g, err := s.svc.CreateGame(rctx, playerID(ctx), svcchess.CreateGameRequest{
		Settings: req.Settings.ToSettings(),
		FEN:      req.FEN,
	})
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.GameResponse{Success: true, Game: chessdto.FromGame(g)})
}

func (s *Server) playMove(ctx *fasthttp.RequestCtx) {
	var req chessdto.MoveRequest
	if err := decodeBody(ctx, &req); err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	d := errorDetail{GameID: req.GameID, Move: req.Move.From + req.Move.To + req.Move.Promotion}
	if strings.TrimSpace(req.GameID) == "" {
		s.fail(ctx, invalidInput("gameId is required"), d)
		return
	}
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	out, err := s.svc.PlayMove(rctx, playerID(ctx), req.GameID, req.Move.ToRequest())
	if err != nil {
		s.fail(ctx, err, d)
		return
	}
	resp := chessdto.GameResponse{
		Success: true,
		Game:    chessdto.FromGame(out.Game),
		BotMove: chessdto.FromMove(out.BotMove),
	}
	if out.Stats != nil {
		resp.Stats = chessdto.FromStats(*out.Stats)
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) game(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	g, err := s.svc.Game(rctx, playerID(ctx), id)
	if err != nil {
		s.fail(ctx, err, errorDetail{GameID: id})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.GameResponse{Success: true, Game: chessdto.FromGame(g)})
}

func (s *Server) resign(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	g, err := s.svc.Resign(rctx, playerID(ctx), id)
	if err != nil {
		s.fail(ctx, err, errorDetail{GameID: id})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.GameResponse{Success: true, Game: chessdto.FromGame(g)})
}

func (s *Server) history(ctx *fasthttp.RequestCtx) {
	limit := 0
	if v := strings.TrimSpace(string(ctx.QueryArgs().Peek("limit"))); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(ctx, invalidInput("limit must be a non-negative integer"), errorDetail{})
			return
		}
		limit = n
	}
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	games, err := s.svc.History(rctx, playerID(ctx), limit)
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	resp := chessdto.HistoryResponse{Success: true, Games: make([]chessdto.Game, 0, len(games))}
	for _, g := range games {
		resp.Games = append(resp.Games, *chessdto.FromGame(g))
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) stats(ctx *fasthttp.RequestCtx) {
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	st, err := s.svc.Stats(rctx, playerID(ctx))
	if err != nil {
		s.fail(ctx, err, errorDetail{})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, chessdto.StatsResponse{Success: true, Stats: chessdto.FromStats(st)})
}
