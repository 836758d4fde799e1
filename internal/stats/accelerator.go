package stats

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	CardStride  = 5 // winRate, lower, upper, width, evidence
	ChessStride = 2 // expectedScore, confidence
)

var ErrLengthMismatch = errors.New("input arrays differ in length")

// Accelerator offloads batch statistics. Implementations must match the CPU
// closed forms within floating point tolerance.
type Accelerator interface {
	Name() string
	// CardBatch returns len(wins)*CardStride values.
	CardBatch(ctx context.Context, wins, totals []float64) ([]float64, error)
	// ChessBatch returns len(wins)*ChessStride values.
	ChessBatch(ctx context.Context, wins, totals, draws []float64) ([]float64, error)
}

// CPU is the reference Accelerator and the fallback for every other one.
type CPU struct{}

func (CPU) Name() string { return "cpu" }

func (CPU) CardBatch(_ context.Context, wins, totals []float64) ([]float64, error) {
	if len(wins) != len(totals) {
		return nil, ErrLengthMismatch
	}
	out := make([]float64, 0, len(wins)*CardStride)
	for i := range wins {
		iv := Wilson(wins[i], totals[i])
		out = append(out, iv.WinRate, iv.Lower, iv.Upper, iv.Width, iv.Evidence)
	}
	return out, nil
}

func (CPU) ChessBatch(_ context.Context, wins, totals, draws []float64) ([]float64, error) {
	if len(wins) != len(totals) || len(wins) != len(draws) {
		return nil, ErrLengthMismatch
	}
	out := make([]float64, 0, len(wins)*ChessStride)
	for i := range wins {
		out = append(out, ExpectedScore(wins[i], draws[i], totals[i]), Confidence(totals[i]))
	}
	return out, nil
}

// MoveScore is the stride-2 chess summary.
type MoveScore struct {
	ExpectedScore float64
	Confidence    float64
}

// Batcher runs batch computations on an optional accelerator. The first
// accelerator failure is logged and disables it for the rest of the process.
type Batcher struct {
	acc      Accelerator
	logger   *zap.Logger
	disabled atomic.Bool
}

func NewBatcher(acc Accelerator, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{acc: acc, logger: logger}
}

func (b *Batcher) accelerator() Accelerator {
	if b == nil || b.acc == nil || b.disabled.Load() {
		return nil
	}
	return b.acc
}

func (b *Batcher) fallback(op string, err error) {
	if b.disabled.CompareAndSwap(false, true) {
		b.logger.Warn("accelerator_fallback",
			zap.String("accelerator", b.acc.Name()),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// Cards computes Wilson summaries for each (wins, totals) pair.
func (b *Batcher) Cards(ctx context.Context, wins, totals []float64) ([]Interval, error) {
	if len(wins) != len(totals) {
		return nil, ErrLengthMismatch
	}
	var flat []float64
	if acc := b.accelerator(); acc != nil {
		out, err := acc.CardBatch(ctx, wins, totals)
		if err == nil && len(out) != len(wins)*CardStride {
			err = fmt.Errorf("card batch returned %d values for %d inputs", len(out), len(wins))
		}
		if err != nil {
			b.fallback("card_batch", err)
		} else {
			flat = out
		}
	}
	if flat == nil {
		flat, _ = CPU{}.CardBatch(ctx, wins, totals)
	}
	res := make([]Interval, len(wins))
	for i := range res {
		s := flat[i*CardStride : (i+1)*CardStride]
		res[i] = Interval{WinRate: s[0], Lower: s[1], Upper: s[2], Width: s[3], Evidence: s[4]}
	}
	return res, nil
}

// Moves computes expected score and confidence for each (wins, totals, draws) triple.
func (b *Batcher) Moves(ctx context.Context, wins, totals, draws []float64) ([]MoveScore, error) {
	if len(wins) != len(totals) || len(wins) != len(draws) {
		return nil, ErrLengthMismatch
	}
	var flat []float64
	if acc := b.accelerator(); acc != nil {
		out, err := acc.ChessBatch(ctx, wins, totals, draws)
		if err == nil && len(out) != len(wins)*ChessStride {
			err = fmt.Errorf("chess batch returned %d values for %d inputs", len(out), len(wins))
		}
		if err != nil {
			b.fallback("chess_batch", err)
		} else {
			flat = out
		}
	}
	if flat == nil {
		flat, _ = CPU{}.ChessBatch(ctx, wins, totals, draws)
	}
	res := make([]MoveScore, len(wins))
	for i := range res {
		res[i] = MoveScore{ExpectedScore: flat[i*ChessStride], Confidence: flat[i*ChessStride+1]}
	}
	return res, nil
}
