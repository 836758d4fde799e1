package domain

import "time"

type RunKind string

const (
	RunChess RunKind = "chess"
	RunCards RunKind = "cards"
)

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// TrainingRun is one ledger entry written after a simulate+train cycle.
type TrainingRun struct {
	ID        int64
	RunUUID   string
	Kind      RunKind
	Status    RunStatus
	Samples   int
	Contexts  int
	ModelKey  string
	Summary   map[string]any
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}
