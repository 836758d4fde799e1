// Package trainer orchestrates simulation and training runs: it loads the
// stored models, runs the simulators and aggregators, persists the results
// once a run completes and records every run in the ledger.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/chess"
	"github.com/park285/runenkrieg/internal/chesstrain"
	"github.com/park285/runenkrieg/internal/config"
	"github.com/park285/runenkrieg/internal/domain"
	"github.com/park285/runenkrieg/internal/modelstore"
	"github.com/park285/runenkrieg/internal/msgcat"
	"github.com/park285/runenkrieg/internal/narrative"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/repository"
	"github.com/park285/runenkrieg/internal/rktrain"
	"github.com/park285/runenkrieg/internal/stats"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"go.uber.org/zap"
)

var ErrUnknownGame = errors.New("unknown game")

// Deps are the collaborators of a Service. Models and Repo are required.
type Deps struct {
	Models    *modelstore.Models
	Repo      repository.Repository
	Batcher   *stats.Batcher
	Policy    *bandit.Policy
	Tuning    config.Tuning
	Catalog   *msgcat.Catalog
	Narrative *narrative.Client
	Logger    *zap.Logger
}

type Service struct {
	models   *modelstore.Models
	repo     repository.Repository
	batcher  *stats.Batcher
	policy   *bandit.Policy
	tuning   config.Tuning
	catalog  *msgcat.Catalog
	narrator *narrative.Client
	logger   *zap.Logger

	// one training run at a time writes the stored models
	trainMu sync.Mutex
}

func New(d Deps) (*Service, error) {
	if d.Models == nil {
		return nil, fmt.Errorf("nil model store")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("nil run repository")
	}
	s := &Service{
		models:   d.Models,
		repo:     d.Repo,
		batcher:  d.Batcher,
		policy:   d.Policy,
		tuning:   d.Tuning,
		catalog:  d.Catalog,
		narrator: d.Narrative,
		logger:   d.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.batcher == nil {
		s.batcher = stats.NewBatcher(nil, s.logger)
	}
	if s.policy == nil {
		s.policy = bandit.New(bandit.WithEpsilon(d.Tuning.BanditEpsilon), bandit.WithLogger(s.logger))
	}
	return s, nil
}

func (s *Service) Policy() *bandit.Policy { return s.policy }

// localize rewrites phase messages through the catalog before they reach report.
func (s *Service) localize(report progress.Reporter) progress.Reporter {
	if report == nil {
		return progress.Nop
	}
	if s.catalog == nil {
		return report
	}
	return func(f float64, msg string) { report(f, s.catalog.Phase(msg)) }
}

func (s *Service) chessOptions(p taskdto.Payload) chesstrain.Options {
	o := s.tuning.Chess
	if p.Games > 0 {
		o.Games = p.Games
	}
	if p.MaxPlies > 0 {
		o.MaxPlies = p.MaxPlies
	}
	if p.Randomness > 0 {
		o.Randomness = p.Randomness
	}
	if p.Seed != 0 {
		o.Seed = p.Seed
	}
	if p.StartFEN != "" {
		o.StartFEN = p.StartFEN
	}
	return o
}

func (s *Service) cardOptions(p taskdto.Payload) rktrain.SimOptions {
	o := s.tuning.Cards
	if p.Games > 0 {
		o.Games = p.Games
	}
	if p.MaxRounds > 0 {
		o.MaxRounds = p.MaxRounds
	}
	if p.Seed != 0 {
		o.Seed = p.Seed
	}
	return o
}

func (s *Service) SimulateChess(ctx context.Context, p taskdto.Payload, report progress.Reporter) (*chesstrain.SimulationResult, error) {
	return chesstrain.Simulate(ctx, s.chessOptions(p), s.localize(report), s.logger)
}

// SimulateCards plays with the stored card model (if any) and the live
// fusion policy. Nothing is persisted.
func (s *Service) SimulateCards(ctx context.Context, p taskdto.Payload, report progress.Reporter) (rktrain.SimulationResult, error) {
	model, err := s.models.LoadCardModel(ctx)
	if err != nil {
		return rktrain.SimulationResult{}, err
	}
	return rktrain.SimulateRounds(ctx, s.cardOptions(p), rktrain.Agents{Model: model, Policy: s.policy}, s.localize(report), s.logger)
}

// TrainChess simulates, folds the games into the stored model (unless
// p.Fresh) and saves it.
func (s *Service) TrainChess(ctx context.Context, p taskdto.Payload, report progress.Reporter) (taskdto.TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	run := s.beginRun(domain.RunChess, modelstore.KeyChessModel)
	report = s.localize(report)

	var base *chesstrain.Model
	if !p.Fresh {
		m, err := s.models.LoadChessModel(ctx)
		if err != nil {
			return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
		}
		base = m
	}
	sim, err := chesstrain.Simulate(ctx, s.chessOptions(p), progress.Scale(report, 0, 0.6), s.logger)
	if err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}
	model, err := chesstrain.Train(ctx, sim.Games, base, progress.Scale(report, 0.6, 0.9), s.logger)
	if err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}
	report(0.9, "persisting")
	if err := s.models.SaveChessModel(ctx, model); err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}

	plies := 0
	for _, g := range sim.Games {
		plies += g.Plies()
	}
	run.Samples = plies
	run.Contexts = len(model.Strict)
	run.Summary = map[string]any{
		"games":           sim.Summary.Games,
		"whiteWins":       sim.Summary.WhiteWins,
		"blackWins":       sim.Summary.BlackWins,
		"draws":           sim.Summary.Draws,
		"avgPlies":        sim.Summary.AveragePlies,
		"modelGames":      model.Games,
		"relaxedContexts": len(model.Relaxed),
	}
	if err := s.finishRun(ctx, run, nil); err != nil {
		return taskdto.TrainResult{}, err
	}
	report(1, "persisting")
	return trainResult(taskdto.GameChess, run), nil
}

// TrainCards simulates rounds with the current agents, folds them into the
// stored card model (unless p.Fresh) and saves both the model and the fusion policy.
func (s *Service) TrainCards(ctx context.Context, p taskdto.Payload, report progress.Reporter) (taskdto.TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	run := s.beginRun(domain.RunCards, modelstore.KeyCardModel)
	report = s.localize(report)

	var base *rktrain.Model
	if !p.Fresh {
		m, err := s.models.LoadCardModel(ctx)
		if err != nil {
			return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
		}
		base = m
	}
	sim, err := rktrain.SimulateRounds(ctx, s.cardOptions(p), rktrain.Agents{Model: base, Policy: s.policy}, progress.Scale(report, 0, 0.5), s.logger)
	if err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}
	model, err := rktrain.Train(ctx, sim.Rounds, base, rktrain.Options{
		FocusSeeds: s.tuning.Seeds(),
		Batcher:    s.batcher,
		Logger:     s.logger,
	}, progress.Scale(report, 0.5, 0.9))
	if err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}
	report(0.9, "persisting")
	if err := s.models.SaveCardModel(ctx, model); err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}
	if err := s.models.SavePolicy(ctx, s.policy); err != nil {
		return taskdto.TrainResult{}, s.finishRun(ctx, run, err)
	}

	a := model.Analysis
	run.Samples = len(sim.Rounds)
	run.Contexts = a.Contexts
	run.Summary = map[string]any{
		"games":       sim.Games,
		"fusions":     sim.Fusions,
		"totalRounds": a.TotalRounds,
		"aiWinRate":   a.AIWinRate,
		"solid":       a.Solid,
		"needsData":   a.NeedsData,
		"lowEntropy":  a.LowEntropy,
		"stable":      a.Stable,
		"provisional": a.Provisional,
		"seeded":      a.SeededContexts,
		"banditArms":  s.policy.Len(),
	}
	if err := s.finishRun(ctx, run, nil); err != nil {
		return taskdto.TrainResult{}, err
	}
	report(1, "persisting")
	return trainResult(taskdto.GameCards, run), nil
}

func (s *Service) beginRun(kind domain.RunKind, key string) *domain.TrainingRun {
	return &domain.TrainingRun{
		RunUUID:   uuid.NewString(),
		Kind:      kind,
		ModelKey:  key,
		StartedAt: time.Now().UTC(),
	}
}

// finishRun stamps run with cause's status and writes it to the ledger. It
// returns cause, or the ledger error when the run itself succeeded.
func (s *Service) finishRun(ctx context.Context, run *domain.TrainingRun, cause error) error {
	run.EndedAt = time.Now().UTC()
	run.Duration = run.EndedAt.Sub(run.StartedAt)
	switch {
	case cause == nil:
		run.Status = domain.RunSucceeded
	case errors.Is(cause, progress.ErrCanceled) || errors.Is(cause, context.Canceled):
		run.Status = domain.RunCanceled
		run.Error = cause.Error()
	default:
		run.Status = domain.RunFailed
		run.Error = cause.Error()
	}
	// a canceled ctx must not stop the ledger write
	id, err := s.repo.InsertRun(context.WithoutCancel(ctx), run)
	if err != nil {
		s.logger.Warn("run_ledger_write_failed", zap.String("run", run.RunUUID), zap.Error(err))
		if cause == nil {
			return fmt.Errorf("record run: %w", err)
		}
		return cause
	}
	run.ID = id
	s.logger.Info("training_run_recorded",
		zap.String("run", run.RunUUID),
		zap.String("kind", string(run.Kind)),
		zap.String("status", string(run.Status)),
		zap.Int("samples", run.Samples),
		zap.Duration("duration", run.Duration),
	)
	return cause
}

func trainResult(game taskdto.Game, run *domain.TrainingRun) taskdto.TrainResult {
	return taskdto.TrainResult{
		Game:     game,
		RunID:    run.RunUUID,
		Samples:  run.Samples,
		Contexts: run.Contexts,
		ModelKey: run.ModelKey,
		Summary:  run.Summary,
	}
}

// SuggestMove answers a live chess query from the stored model, falling back
// to the heuristic when there is no model or no data for the position.
func (s *Service) SuggestMove(ctx context.Context, fen string) (chesstrain.Suggestion, error) {
	g, err := chess.NewGameFromFEN(fen)
	if err != nil {
		return chesstrain.Suggestion{}, err
	}
	model, err := s.models.LoadChessModel(ctx)
	if err != nil {
		return chesstrain.Suggestion{}, err
	}
	return model.ChooseMove(g, rand.New(rand.NewSource(time.Now().UnixNano()))), nil
}

// PredictCard answers a live card query from the stored model.
func (s *Service) PredictCard(ctx context.Context, state rktrain.GameState, hand []cards.Card) (rktrain.Prediction, error) {
	model, err := s.models.LoadCardModel(ctx)
	if err != nil {
		return rktrain.Prediction{}, err
	}
	return model.Predict(state, hand, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// ChessInsights lists the best-scored stored positions, up to the configured limit.
func (s *Service) ChessInsights(ctx context.Context) ([]chesstrain.Insight, error) {
	model, err := s.models.LoadChessModel(ctx)
	if err != nil || model == nil {
		return nil, err
	}
	return model.Insights(ctx, s.batcher, s.tuning.InsightLimit)
}

// Narrate tells the story of a finished card game. It never fails.
func (s *Service) Narrate(ctx context.Context, outcome string, history []cards.RoundResult) string {
	req := narrative.Request{Game: string(taskdto.GameCards), Outcome: outcome, History: history}
	if s.narrator == nil {
		return s.catalog.Text("narrative.fallback", nil, narrative.DefaultFallback)
	}
	return s.narrator.Narrate(ctx, req)
}

func (s *Service) RecentRuns(ctx context.Context, kind domain.RunKind, limit int) ([]*domain.TrainingRun, error) {
	return s.repo.RecentRuns(ctx, kind, limit)
}
