package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/park285/runenkrieg/internal/builder"
	"github.com/park285/runenkrieg/internal/chesstrain"
	appcfg "github.com/park285/runenkrieg/internal/config"
	"github.com/park285/runenkrieg/internal/domain"
	"github.com/park285/runenkrieg/internal/modelstore"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/taskws"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"go.uber.org/zap"
)

type cmdEnv struct {
	cfg    *appcfg.AppConfig
	deps   *builder.Deps
	logger *zap.Logger
}

type command func(ctx context.Context, env *cmdEnv, args []string) error

var commands = map[string]command{
	"chess-sim":   chessSim,
	"chess-train": chessTrain,
	"rk-sim":      rkSim,
	"rk-train":    rkTrain,
	"serve":       serve,
	"export":      exportModel,
	"import":      importModel,
	"runs":        listRuns,
}

// payloadFlags binds the task payload fields shared by the simulate and train commands.
func payloadFlags(fs *flag.FlagSet, game taskdto.Game, train bool) *taskdto.Payload {
	p := &taskdto.Payload{Game: game}
	fs.IntVar(&p.Games, "games", 0, "games to simulate (0 = configured default)")
	fs.Int64Var(&p.Seed, "seed", 0, "random seed (0 = time based)")
	if game == taskdto.GameChess {
		fs.IntVar(&p.MaxPlies, "max-plies", 0, "ply cap per game")
		fs.Float64Var(&p.Randomness, "randomness", 0, "heuristic noise")
		fs.StringVar(&p.StartFEN, "fen", "", "start position")
	} else {
		fs.IntVar(&p.MaxRounds, "max-rounds", 0, "round cap per game")
	}
	if train {
		fs.BoolVar(&p.Fresh, "fresh", false, "ignore the stored model")
	}
	return p
}

func (e *cmdEnv) printer() progress.Reporter {
	return func(f float64, msg string) {
		line := e.deps.Catalog.Text("cli.progress", map[string]any{"Percent": f * 100, "Message": msg}, msg)
		fmt.Fprintln(os.Stderr, line)
	}
}

func (e *cmdEnv) say(key string, data map[string]any) {
	fmt.Println(e.deps.Catalog.Text(key, data, fmt.Sprint(data)))
}

func chessSim(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("chess-sim", flag.ContinueOnError)
	p := payloadFlags(fs, taskdto.GameChess, false)
	pgnPath := fs.String("pgn", "", "write the games as PGN to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sim, err := env.deps.Service.SimulateChess(ctx, *p, env.printer())
	if err != nil {
		return err
	}
	s := sim.Summary
	env.say("cli.chess_sim_done", map[string]any{
		"Games": s.Games, "White": s.WhiteWins, "Black": s.BlackWins, "Draws": s.Draws, "AvgPlies": s.AveragePlies,
	})
	if *pgnPath == "" {
		return nil
	}
	return writePGN(*pgnPath, sim.Games)
}

func writePGN(path string, games []chesstrain.GameRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	now := time.Now()
	for i, g := range games {
		text, err := chesstrain.ExportPGN(g, chesstrain.PGNHeader{Event: "Heuristic self-play", Site: "trainer", Round: i + 1, Date: now})
		if err != nil {
			return fmt.Errorf("game %d: %w", i+1, err)
		}
		if _, err := fmt.Fprintln(f, text); err != nil {
			return err
		}
	}
	return nil
}

func chessTrain(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("chess-train", flag.ContinueOnError)
	p := payloadFlags(fs, taskdto.GameChess, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := env.deps.Service.TrainChess(ctx, *p, env.printer())
	if err != nil {
		return err
	}
	env.say("cli.chess_train_done", map[string]any{
		"Positions": res.Contexts, "Games": res.Summary["modelGames"], "Key": res.ModelKey, "RunID": res.RunID,
	})
	insights, err := env.deps.Service.ChessInsights(ctx)
	if err != nil {
		return err
	}
	for _, in := range insights {
		env.say("cli.insight", map[string]any{
			"Move": in.Move, "Position": in.Position, "Score": in.ExpectedScore, "Samples": in.Stats.Total,
		})
	}
	return nil
}

func rkSim(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("rk-sim", flag.ContinueOnError)
	p := payloadFlags(fs, taskdto.GameCards, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sim, err := env.deps.Service.SimulateCards(ctx, *p, env.printer())
	if err != nil {
		return err
	}
	env.say("cli.rk_sim_done", map[string]any{
		"Games": sim.Games, "Rounds": len(sim.Rounds), "AIWins": sim.AIWins,
		"PlayerWins": sim.PlayerWins, "Draws": sim.Draws, "Fusions": sim.Fusions,
	})
	return nil
}

func rkTrain(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("rk-train", flag.ContinueOnError)
	p := payloadFlags(fs, taskdto.GameCards, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := env.deps.Service.TrainCards(ctx, *p, env.printer())
	if err != nil {
		return err
	}
	env.say("cli.rk_train_done", map[string]any{
		"Contexts": res.Contexts, "Solid": res.Summary["solid"], "NeedsData": res.Summary["needsData"],
		"Rounds": res.Samples, "Key": res.ModelKey, "RunID": res.RunID,
	})
	return nil
}

func serve(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", env.cfg.ListenAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ws := taskws.NewServer(env.deps.Runner,
		taskws.WithOrigins(env.cfg.AllowedOrigins),
		taskws.WithServerLogger(env.logger),
	)
	srv := &http.Server{Addr: *addr, Handler: ws.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	env.say("cli.serve_listening", map[string]any{"Addr": *addr})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env.deps.Runner.Close()
	return srv.Shutdown(shutdownCtx)
}

func modelKeyFlag(fs *flag.FlagSet) *string {
	return fs.String("key", modelstore.KeyCardModel,
		fmt.Sprintf("model key (%s, %s, %s)", modelstore.KeyCardModel, modelstore.KeyChessModel, modelstore.KeyBandit))
}

func exportModel(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	key := modelKeyFlag(fs)
	out := fs.String("out", "", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("export: -out is required")
	}
	return env.deps.Models.Export(ctx, *key, *out)
}

func importModel(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	key := modelKeyFlag(fs)
	in := fs.String("in", "", "input file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("import: -in is required")
	}
	return env.deps.Models.Import(ctx, *key, *in)
}

func listRuns(ctx context.Context, env *cmdEnv, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	kind := fs.String("kind", string(domain.RunCards), "chess or cards")
	limit := fs.Int("limit", 10, "max runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runs, err := env.deps.Service.RecentRuns(ctx, domain.RunKind(*kind), *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-9s  %-7s  samples=%d contexts=%d  %s  %s\n",
			r.EndedAt.Format(time.RFC3339), r.Status, r.Kind, r.Samples, r.Contexts, r.Duration.Round(time.Millisecond), r.RunUUID)
	}
	return nil
}
