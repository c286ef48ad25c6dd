package chess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/park285/cheese-coach/internal/domain"
)

var (
	ErrDuplicateGame = errors.New("chess game already archived")
	ErrGameNotFound  = errors.New("chess game not found")
)

// Repository persists finished games, per-player stats and analyses.
type Repository interface {
	// FinishGame archives a terminal game and runs fn against the player's
	// locked stats in one transaction. Either both are stored or neither is.
	// An already archived game yields ErrDuplicateGame and fn is not called.
	FinishGame(ctx context.Context, game *domain.GameSession, fn func(stats *domain.UserStats) error) (domain.UserStats, error)
	GetGame(ctx context.Context, id string) (*domain.GameSession, error)
	RecentGames(ctx context.Context, playerID string, limit int) ([]*domain.GameSession, error)
	GetStats(ctx context.Context, playerID string) (domain.UserStats, error)
	// UpdateStats runs fn against the player's stats with the row locked and
	// stores the result. A missing row starts from NewUserStats.
	UpdateStats(ctx context.Context, playerID string, fn func(stats *domain.UserStats) error) (domain.UserStats, error)
	InsertAnalysis(ctx context.Context, playerID string, analysis domain.AnalysisResult) error
}

// Schema creates the tables used by the SQL repository.
const Schema = `
CREATE TABLE IF NOT EXISTS chess_games (
	id          TEXT PRIMARY KEY,
	player_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	difficulty  TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chess_games_player ON chess_games(player_id, ended_at DESC);

CREATE TABLE IF NOT EXISTS chess_user_stats (
	player_id         TEXT PRIMARY KEY,
	total_analyses    INTEGER NOT NULL DEFAULT 0,
	total_games       INTEGER NOT NULL DEFAULT 0,
	wins              INTEGER NOT NULL DEFAULT 0,
	losses            INTEGER NOT NULL DEFAULT 0,
	draws             INTEGER NOT NULL DEFAULT 0,
	rating            INTEGER NOT NULL DEFAULT 1200 CHECK (rating BETWEEN 800 AND 2400),
	favorite_openings JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chess_analyses (
	id                  TEXT PRIMARY KEY,
	player_id           TEXT NOT NULL,
	fen                 TEXT NOT NULL,
	eval_kind           TEXT NOT NULL,
	eval_value          INTEGER NOT NULL,
	best_move           TEXT,
	principal_variation TEXT[] NOT NULL,
	depth               INTEGER NOT NULL,
	confidence          INTEGER NOT NULL,
	elapsed_ms          BIGINT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chess_analyses_player ON chess_analyses(player_id, created_at DESC);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply chess schema: %w", err)
	}
	return nil
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FinishGame(ctx context.Context, game *domain.GameSession, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	if game == nil {
		return domain.UserStats{}, fmt.Errorf("nil chess game payload")
	}
	payload, err := json.Marshal(game)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("marshal chess game: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("begin finish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO chess_games (
			id,
			player_id,
			status,
			difficulty,
			started_at,
			ended_at,
			payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`

	var id string
	err = tx.QueryRowContext(
		ctx,
		insert,
		game.ID,
		game.PlayerID,
		string(game.Status),
		game.Settings.Difficulty,
		game.StartedAt,
		game.EndedAt,
		string(payload),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserStats{}, ErrDuplicateGame
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("insert chess game: %w", err)
	}

	stats, err := updateStatsTx(ctx, tx, game.PlayerID, fn)
	if err != nil {
		return domain.UserStats{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserStats{}, fmt.Errorf("commit finished game: %w", err)
	}
	return stats, nil
}

func (r *repository) GetGame(ctx context.Context, id string) (*domain.GameSession, error) {
	const query = `
		SELECT payload
		FROM chess_games
		WHERE id = $1`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chess game: %w", err)
	}
	return decodeSession(payload)
}

func (r *repository) RecentGames(ctx context.Context, playerID string, limit int) ([]*domain.GameSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	const query = `
		SELECT payload
		FROM chess_games
		WHERE player_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select chess games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.GameSession, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan chess game: %w", err)
		}
		g, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chess games: %w", err)
	}
	return games, nil
}

const selectStats = `
		SELECT
			total_analyses,
			total_games,
			wins,
			losses,
			draws,
			rating,
			favorite_openings,
			updated_at
		FROM chess_user_stats
		WHERE player_id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStats(row rowScanner, playerID string) (domain.UserStats, error) {
	stats := domain.UserStats{PlayerID: playerID}
	var openings []byte
	if err := row.Scan(
		&stats.TotalAnalyses,
		&stats.TotalGames,
		&stats.Wins,
		&stats.Losses,
		&stats.Draws,
		&stats.Rating,
		&openings,
		&stats.UpdatedAt,
	); err != nil {
		return domain.UserStats{}, err
	}
	if len(openings) > 0 {
		if err := json.Unmarshal(openings, &stats.FavoriteOpenings); err != nil {
			return domain.UserStats{}, fmt.Errorf("unmarshal favorite_openings: %w", err)
		}
	}
	return stats, nil
}

func (r *repository) GetStats(ctx context.Context, playerID string) (domain.UserStats, error) {
	stats, err := scanStats(r.db.QueryRowContext(ctx, selectStats, playerID), playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewUserStats(playerID), nil
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("select chess stats: %w", err)
	}
	return stats, nil
}

func (r *repository) UpdateStats(ctx context.Context, playerID string, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stats, err := updateStatsTx(ctx, tx, playerID, fn)
	if err != nil {
		return domain.UserStats{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserStats{}, fmt.Errorf("commit chess stats: %w", err)
	}
	return stats, nil
}

// updateStatsTx seeds the player's row if needed, locks it and writes back
// what fn produced.
func updateStatsTx(ctx context.Context, tx *sql.Tx, playerID string, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	const seed = `
		INSERT INTO chess_user_stats (player_id, rating)
		VALUES ($1, $2)
		ON CONFLICT (player_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, seed, playerID, domain.InitialRating); err != nil {
		return domain.UserStats{}, fmt.Errorf("seed chess stats: %w", err)
	}

	stats, err := scanStats(tx.QueryRowContext(ctx, selectStats+"\n\t\tFOR UPDATE", playerID), playerID)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("lock chess stats: %w", err)
	}
	if err := fn(&stats); err != nil {
		return domain.UserStats{}, err
	}
	stats.Rating = clampRating(stats.Rating)
	stats.UpdatedAt = time.Now()

	openings, err := json.Marshal(nonNilOpenings(stats.FavoriteOpenings))
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("marshal favorite_openings: %w", err)
	}

	const update = `
		UPDATE chess_user_stats
		SET
			total_analyses = $2,
			total_games = $3,
			wins = $4,
			losses = $5,
			draws = $6,
			rating = $7,
			favorite_openings = $8::jsonb,
			updated_at = $9
		WHERE player_id = $1`
	if _, err := tx.ExecContext(
		ctx,
		update,
		playerID,
		stats.TotalAnalyses,
		stats.TotalGames,
		stats.Wins,
		stats.Losses,
		stats.Draws,
		stats.Rating,
		string(openings),
		stats.UpdatedAt,
	); err != nil {
		return domain.UserStats{}, fmt.Errorf("update chess stats: %w", err)
	}
	return stats, nil
}

func (r *repository) InsertAnalysis(ctx context.Context, playerID string, analysis domain.AnalysisResult) error {
	var best sql.NullString
	if analysis.BestMove != nil {
		best = sql.NullString{String: analysis.BestMove.UCI, Valid: true}
	}
	pv := analysis.PrincipalVariation
	if pv == nil {
		pv = []string{}
	}

	const query = `
		INSERT INTO chess_analyses (
			id,
			player_id,
			fen,
			eval_kind,
			eval_value,
			best_move,
			principal_variation,
			depth,
			confidence,
			elapsed_ms,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		analysis.ID,
		playerID,
		analysis.Position.FEN,
		string(analysis.Evaluation.Kind()),
		analysis.Evaluation.Value(),
		best,
		pq.Array(pv),
		analysis.Depth,
		analysis.Confidence,
		analysis.Elapsed.Milliseconds(),
		analysis.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert chess analysis: %w", err)
	}
	return nil
}

func nonNilOpenings(list []domain.OpeningCount) []domain.OpeningCount {
	if list == nil {
		return []domain.OpeningCount{}
	}
	return list
}
