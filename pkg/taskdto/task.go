// Package taskdto holds the wire frames of the task protocol: a request,
// any number of progress events, then exactly one result or error event.
package taskdto

import "encoding/json"

type Action string

const (
	ActionSimulate Action = "simulate"
	ActionTrain    Action = "train"
	// ActionCancel stops the running task with the request's id.
	ActionCancel Action = "cancel"
)

type Game string

const (
	GameChess Game = "chess"
	GameCards Game = "cards"
)

type Request struct {
	ID      string          `json:"id"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

func (t EventType) Terminal() bool { return t == EventResult || t == EventError }

type Event struct {
	ID       string          `json:"id"`
	Type     EventType       `json:"type"`
	Progress *Progress       `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *Error          `json:"error,omitempty"`
}

type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message"`
}

type Error struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "task failed"
}
