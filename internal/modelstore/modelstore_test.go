package modelstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/chess"
	"github.com/park285/runenkrieg/internal/chesstrain"
	"github.com/park285/runenkrieg/internal/rktrain"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, prefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	s, err := Dial(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), prefix, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreGetSet(t *testing.T) {
	s, mr := newRedisStore(t, "test")
	ctx := context.Background()

	if _, err := s.Get(ctx, KeyCardModel); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, KeyCardModel, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, KeyCardModel)
	if err != nil || string(got) != `{"version":1}` {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if !mr.Exists("test:runenkrieg:model") {
		t.Fatalf("expected prefixed key in redis, have %v", mr.Keys())
	}
}

func TestRedisStoreTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", time.Hour)
	if err := s.Set(context.Background(), KeyBandit, []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(KeyBandit); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(context.Background(), KeyBandit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), "", "", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := Dial(context.Background(), "http://localhost", "", 0); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}

func TestModelsRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t, "")
	models := NewModels(s, nil)
	ctx := context.Background()

	if m, err := models.LoadCardModel(ctx); m != nil || err != nil {
		t.Fatalf("empty store: %v %v", m, err)
	}

	rounds := []cards.RoundResult{{
		Round: 1, PlayerCard: "Feuer Funke", AICard: "Wasser Funke",
		PlayerTokensBefore: 5, AITokensBefore: 5, PlayerTokensAfter: 4, AITokensAfter: 6,
		Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Nerida", Winner: cards.WinnerAI,
	}}
	card, err := rktrain.Train(ctx, rounds, nil, rktrain.Options{}, nil)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := models.SaveCardModel(ctx, card); err != nil {
		t.Fatalf("SaveCardModel: %v", err)
	}
	back, err := models.LoadCardModel(ctx)
	if err != nil || back == nil {
		t.Fatalf("LoadCardModel: %v", err)
	}
	key := rktrain.KeyFromRound(rounds[0])
	if got := back.Context(key).AICards["Wasser Funke"]; got == nil || got.Wins != 1 || got.Total != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}

	cm, err := chesstrain.Train(ctx, []chesstrain.GameRecord{{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("chess Train: %v", err)
	}
	if err := models.SaveChessModel(ctx, cm); err != nil {
		t.Fatalf("SaveChessModel: %v", err)
	}
	cback, err := models.LoadChessModel(ctx)
	if err != nil || cback.Games != 1 {
		t.Fatalf("LoadChessModel: %+v %v", cback, err)
	}

	p := bandit.New(bandit.WithSeed(1))
	d := p.SelectAction(bandit.Context{Actor: "ai", Hero: "Vex", OpponentHero: "Liora", Weather: "Nebel", FusedSignature: "a+b"})
	p.Learn(d, bandit.Outcome{Result: bandit.Win, TokenChange: 2})
	if err := models.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}
	restored := bandit.New()
	ok, err := models.LoadPolicy(ctx, restored)
	if err != nil || !ok {
		t.Fatalf("LoadPolicy: %v %v", ok, err)
	}
	arm, found := restored.Arm(d.Context, d.Action)
	if !found || arm.Count != 1 {
		t.Fatalf("restored arm: %+v %v", arm, found)
	}
}

func TestExportImportFile(t *testing.T) {
	src := NewModels(NewMemoryStore(), nil)
	ctx := context.Background()
	cm, err := chesstrain.Train(ctx, []chesstrain.GameRecord{{Moves: []string{"d2d4"}, Winner: chess.WinnerDraw}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := src.SaveChessModel(ctx, cm); err != nil {
		t.Fatalf("SaveChessModel: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out", "chess.json")
	if err := src.Export(ctx, KeyChessModel, path); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := NewModels(NewMemoryStore(), nil)
	if err := dst.Import(ctx, KeyChessModel, path); err != nil {
		t.Fatalf("Import: %v", err)
	}
	back, err := dst.LoadChessModel(ctx)
	if err != nil || back.Games != 1 {
		t.Fatalf("LoadChessModel: %+v %v", back, err)
	}

	if err := dst.Export(ctx, KeyCardModel, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound exporting missing key, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := dst.Import(ctx, KeyCardModel, bad); err == nil {
		t.Fatalf("expected import of corrupt file to fail")
	}
}
