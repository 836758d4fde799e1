package trainer

import (
	"context"
	"fmt"
	"math"

	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/task"
	"github.com/park285/runenkrieg/pkg/taskdto"
)

// Register installs the simulate and train handlers on r.
func (s *Service) Register(r *task.Runner) {
	r.Handle(taskdto.ActionSimulate, s.handleSimulate)
	r.Handle(taskdto.ActionTrain, s.handleTrain)
}

func (s *Service) handleSimulate(ctx context.Context, req taskdto.Request, report progress.Reporter) (any, error) {
	p, err := task.DecodePayload(req)
	if err != nil {
		return nil, err
	}
	switch p.Game {
	case taskdto.GameChess:
		sim, err := s.SimulateChess(ctx, p, report)
		if err != nil {
			return nil, err
		}
		plies := 0
		for _, g := range sim.Games {
			plies += g.Plies()
		}
		return taskdto.SimulateResult{
			Game:       taskdto.GameChess,
			Games:      sim.Summary.Games,
			Samples:    plies,
			Wins:       sim.Summary.WhiteWins,
			Losses:     sim.Summary.BlackWins,
			Draws:      sim.Summary.Draws,
			AvgSamples: int(math.Round(sim.Summary.AveragePlies)),
		}, nil
	case taskdto.GameCards:
		sim, err := s.SimulateCards(ctx, p, report)
		if err != nil {
			return nil, err
		}
		out := taskdto.SimulateResult{
			Game:    taskdto.GameCards,
			Games:   sim.Games,
			Samples: len(sim.Rounds),
			Wins:    sim.AIWins,
			Losses:  sim.PlayerWins,
			Draws:   sim.Draws,
			Fusions: sim.Fusions,
		}
		if sim.Games > 0 {
			out.AvgSamples = int(math.Round(float64(len(sim.Rounds)) / float64(sim.Games)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, p.Game)
	}
}

func (s *Service) handleTrain(ctx context.Context, req taskdto.Request, report progress.Reporter) (any, error) {
	p, err := task.DecodePayload(req)
	if err != nil {
		return nil, err
	}
	switch p.Game {
	case taskdto.GameChess:
		return s.TrainChess(ctx, p, report)
	case taskdto.GameCards:
		return s.TrainCards(ctx, p, report)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, p.Game)
	}
}
