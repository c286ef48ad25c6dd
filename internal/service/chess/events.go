package chess

import (
	"github.com/park285/cheese-coach/internal/domain"
)

type EventType string

const (
	EventCreated  EventType = "created"
	EventMove     EventType = "move"
	EventFinished EventType = "finished"
)

// Event is published after a session change has been committed.
type Event struct {
	Type    EventType
	Game    *domain.GameSession
	BotMove *domain.Move
	Stats   *domain.UserStats
}

// EventPublisher must not block; slow subscribers are the publisher's concern.
type EventPublisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
