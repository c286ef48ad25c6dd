package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-coach/internal/apiclient"
	corechess "github.com/park285/cheese-coach/internal/chess"
	appcfg "github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/msgcat"
	"github.com/park285/cheese-coach/internal/obslog"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

func main() {
	fen := flag.String("fen", "startpos", "position to analyze")
	depth := flag.Int("depth", 0, "search depth; 0 uses the configured default")
	timeout := flag.Duration("timeout", 0, "analysis budget; 0 uses the configured default")
	server := flag.String("server", os.Getenv("CHESS_BASE_URL"), "analyze through a running API instead of in process")
	user := flag.String("user", os.Getenv("X_USER_ID"), "X-User-Id sent to -server")
	asJSON := flag.Bool("json", false, "print the wire response")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var res *chessdto.Analysis
	if strings.TrimSpace(*server) != "" {
		client := apiclient.NewClient(*server, apiclient.WithUserID(*user))
		res, err = client.Analyze(ctx, chessdto.AnalyzePositionRequest{
			FEN:     *fen,
			Depth:   *depth,
			Timeout: int(timeout.Milliseconds()),
		})
	} else {
		res, err = analyzeLocal(ctx, cfg, *fen, *depth, *timeout)
	}
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(chessdto.AnalysisResponse{Success: true, Analysis: res})
		return
	}
	fmt.Println(summary(msgs, res))
	if len(res.PrincipalVariation) > 0 {
		fmt.Println(strings.Join(res.PrincipalVariation, " "))
	}
}

func analyzeLocal(ctx context.Context, cfg *appcfg.AppConfig, fen string, depth int, timeout time.Duration) (*chessdto.Analysis, error) {
	if err := cfg.ApplyTiers(); err != nil {
		return nil, err
	}
	limits := corechess.DefaultLimits()
	limits.MaxDepth = cfg.MaxAnalysisDepth
	limits.DefaultDepth = cfg.DefaultAnalysisDepth
	limits.AnalysisTimeout = cfg.AnalysisTimeout
	engine := corechess.NewEngine(corechess.Options{
		Weights: cfg.Weights,
		Limits:  limits,
		Seed:    cfg.RandomSeed,
		Logger:  obslog.L().Named("engine"),
	})
	res, err := engine.Analyze(ctx, corechess.AnalyzeRequest{FEN: fen, Depth: depth, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return chessdto.FromAnalysis(res), nil
}

func summary(msgs *msgcat.Catalog, a *chessdto.Analysis) string {
	if a.BestMove == nil {
		return msgs.Text("analysis.terminal", map[string]any{"Evaluation": a.Evaluation.Formatted}, a.Evaluation.Formatted)
	}
	data := map[string]any{
		"Evaluation": a.Evaluation.Formatted,
		"Depth":      a.Depth,
		"Confidence": a.Confidence,
		"Best":       a.BestMove.SAN,
	}
	return msgs.Text("analysis.summary", data, a.Evaluation.Formatted)
}
