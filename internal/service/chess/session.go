package chess

import (
	"context"
	"errors"
	"fmt"
	"time"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/domain"
)

// MovePicker supplies the bot's move for a tier.
type MovePicker interface {
	ChooseMove(ctx context.Context, pos domain.Position, tier string) (corechess.Choice, error)
}

// Machine drives a single GameSession through its states. It mutates the
// session it is given; callers hand it a private copy owned by the store.
type Machine struct {
	rules  corechess.Rules
	picker MovePicker
	now    func() time.Time
}

func NewMachine(rules corechess.Rules, picker MovePicker) *Machine {
	return &Machine{rules: rules, picker: picker, now: time.Now}
}

// Transition reports what one call changed.
type Transition struct {
	PlayerMove *domain.Move
	BotMove    *domain.Move
	BotChoice  *corechess.Choice
	// Finished is true only for the call that left the active state.
	Finished bool
}

// Start builds a new active session. When the bot has the first move it is
// played before the session is returned.
func (m *Machine) Start(ctx context.Context, g *domain.GameSession) (Transition, error) {
	pos, err := m.rules.Parse(g.StartFEN)
	if err != nil {
		return Transition{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	st, err := m.rules.Status(pos)
	if err != nil {
		return Transition{}, err
	}
	if st.Terminal {
		return Transition{}, fmt.Errorf("%w: start position is already finished", ErrInvalidInput)
	}
	now := m.now()
	g.StartFEN = pos.FEN
	g.Position = pos
	g.Moves = []domain.MoveEntry{}
	g.Status = domain.StatusActive
	g.StartedAt = now
	g.UpdatedAt = now

	var tr Transition
	if pos.Turn == g.BotColor() {
		if err := m.botTurn(ctx, g, &tr); err != nil {
			return Transition{}, err
		}
	}
	return tr, nil
}

// ApplyPlayerMove validates and plays the player's move, then the bot reply
// if the game goes on. An error leaves g untouched only for validation
// failures; callers must discard g on any error.
func (m *Machine) ApplyPlayerMove(ctx context.Context, g *domain.GameSession, req domain.MoveRequest) (Transition, error) {
	if g.Status != domain.StatusActive {
		return Transition{}, fmt.Errorf("%w: game %s is %s", ErrInvalidSession, g.ID, g.Status)
	}
	if g.Position.Turn != g.PlayerColor {
		return Transition{}, fmt.Errorf("%w: not the player's turn", ErrInvalidSession)
	}
	move, err := m.rules.Validate(g.Position, req)
	if err != nil {
		if errors.Is(err, corechess.ErrIllegalMove) {
			return Transition{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		return Transition{}, err
	}

	var tr Transition
	tr.PlayerMove = &move
	finished, err := m.apply(g, move, domain.ActorPlayer)
	if err != nil {
		return Transition{}, err
	}
	if finished {
		tr.Finished = true
		return tr, nil
	}
	if err := m.botTurn(ctx, g, &tr); err != nil {
		return Transition{}, err
	}
	return tr, nil
}

// Resign ends an active game as a loss for the player.
func (m *Machine) Resign(g *domain.GameSession) (Transition, error) {
	if g.Status != domain.StatusActive {
		return Transition{}, fmt.Errorf("%w: game %s is %s", ErrInvalidSession, g.ID, g.Status)
	}
	m.finish(g, domain.StatusResignation, &domain.GameResult{
		Outcome: domain.OutcomeLoss,
		Winner:  g.BotColor(),
		Method:  "resignation",
	})
	return Transition{Finished: true}, nil
}

func (m *Machine) botTurn(ctx context.Context, g *domain.GameSession, tr *Transition) error {
	choice, err := m.picker.ChooseMove(ctx, g.Position, g.Settings.Difficulty)
	if err != nil {
		return fmt.Errorf("bot move: %w", err)
	}
	move := choice.Move
	finished, err := m.apply(g, move, domain.ActorBot)
	if err != nil {
		return err
	}
	tr.BotMove = &move
	tr.BotChoice = &choice
	if finished {
		tr.Finished = true
	}
	return nil
}

// apply appends an already validated move and re-checks the game status from
// the full move log so repetition claims see the whole history.
func (m *Machine) apply(g *domain.GameSession, move domain.Move, actor domain.Actor) (bool, error) {
	now := m.now()
	g.Moves = append(g.Moves, domain.MoveEntry{Move: move, Actor: actor, Timestamp: now})
	pos, st, err := m.rules.Replay(g.StartFEN, g.UCIMoves())
	if err != nil {
		return false, fmt.Errorf("replay game %s: %w", g.ID, err)
	}
	g.Position = pos
	g.UpdatedAt = now
	if !st.Terminal {
		return false, nil
	}

	status, result := outcomeFor(g, st)
	m.finish(g, status, result)
	return true, nil
}

func (m *Machine) finish(g *domain.GameSession, status domain.GameStatus, result *domain.GameResult) {
	now := m.now()
	g.Status = status
	g.Result = result
	g.EndedAt = &now
	g.UpdatedAt = now
}

// outcomeFor maps a terminal rules status onto the session, seen from the player.
func outcomeFor(g *domain.GameSession, st corechess.Status) (domain.GameStatus, *domain.GameResult) {
	switch {
	case st.Checkmate:
		outcome := domain.OutcomeLoss
		if st.Winner == g.PlayerColor {
			outcome = domain.OutcomeWin
		}
		return domain.StatusCheckmate, &domain.GameResult{Outcome: outcome, Winner: st.Winner, Method: "checkmate"}
	case st.Stalemate:
		return domain.StatusStalemate, &domain.GameResult{Outcome: domain.OutcomeDraw, Method: "stalemate"}
	default:
		return domain.StatusDraw, &domain.GameResult{Outcome: domain.OutcomeDraw, Method: st.Method}
	}
}
