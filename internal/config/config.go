package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/runenkrieg/internal/chesstrain"
	"github.com/park285/runenkrieg/internal/rktrain"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	RedisURL       string
	DatabaseURL    string
	ModelKeyPrefix string
	ModelTTL       time.Duration

	ListenAddr     string
	AllowedOrigins []string

	NarrativeURL     string
	NarrativeAPIKey  string
	NarrativeTimeout time.Duration
	NarrativeRetry   int

	MessagesDir string
	TuningPath  string

	Tuning Tuning
}

// Tuning holds the simulation and training knobs, overridable from a YAML file.
type Tuning struct {
	Chess           chesstrain.Options  `yaml:"chess"`
	Cards           rktrain.SimOptions  `yaml:"cards"`
	BanditEpsilon   float64             `yaml:"bandit_epsilon"`
	UseDefaultSeeds bool                `yaml:"use_default_seeds"`
	FocusSeeds      []rktrain.FocusSeed `yaml:"focus_seeds"`
	InsightLimit    int                 `yaml:"insight_limit"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Chess:           chesstrain.Options{Games: chesstrain.DefaultGames, MaxPlies: chesstrain.DefaultMaxPlies, Randomness: chesstrain.DefaultRandomness},
		Cards:           rktrain.SimOptions{Games: rktrain.DefaultGames, MaxRounds: rktrain.DefaultMaxRounds},
		BanditEpsilon:   0.12,
		UseDefaultSeeds: true,
		InsightLimit:    20,
	}
}

// Seeds returns the configured focus seeds, with the built-in ones first when enabled.
func (t Tuning) Seeds() []rktrain.FocusSeed {
	var out []rktrain.FocusSeed
	if t.UseDefaultSeeds {
		out = append(out, rktrain.DefaultFocusSeeds...)
	}
	return append(out, t.FocusSeeds...)
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8088",
		NarrativeTimeout: 10 * time.Second,
		NarrativeRetry:   3,
		Tuning:           DefaultTuning(),
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.ModelKeyPrefix = strings.TrimSpace(os.Getenv("MODEL_KEY_PREFIX"))
	if v := strings.TrimSpace(os.Getenv("MODEL_TTL")); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MODEL_TTL: %w", err)
		}
		cfg.ModelTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("TRAINER_LISTEN")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("TRAINER_ALLOWED_ORIGINS"))

	cfg.NarrativeURL = strings.TrimSpace(os.Getenv("NARRATIVE_URL"))
	cfg.NarrativeAPIKey = strings.TrimSpace(os.Getenv("NARRATIVE_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("NARRATIVE_TIMEOUT")); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			cfg.NarrativeTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("NARRATIVE_RETRY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NarrativeRetry = n
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.TuningPath = strings.TrimSpace(os.Getenv("TRAINER_CONFIG"))
	if cfg.TuningPath != "" {
		t, err := LoadTuning(cfg.TuningPath, cfg.Tuning)
		if err != nil {
			return nil, err
		}
		cfg.Tuning = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTuning overlays the YAML file at path on base. Keys absent from the
// file keep their base values.
func LoadTuning(path string, base Tuning) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read trainer config: %w", err)
	}
	t := base
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return base, fmt.Errorf("parse trainer config %s: %w", path, err)
	}
	return t, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("TRAINER_LISTEN must not be empty")
	}
	t := c.Tuning
	if t.BanditEpsilon < 0 || t.BanditEpsilon > 1 {
		return fmt.Errorf("bandit_epsilon must be within [0,1], got %v", t.BanditEpsilon)
	}
	if t.Chess.Games < 0 || t.Chess.MaxPlies < 0 || t.Cards.Games < 0 || t.Cards.MaxRounds < 0 {
		return errors.New("game and length limits must not be negative")
	}
	if t.Chess.Randomness < 0 {
		return fmt.Errorf("chess randomness must not be negative, got %v", t.Chess.Randomness)
	}
	for i, s := range t.FocusSeeds {
		if strings.TrimSpace(s.PlayerCard) == "" || len(s.Preferred) == 0 {
			return fmt.Errorf("focus_seeds[%d]: player_card and preferred are required", i)
		}
		if s.TargetWinRate < 0 || s.TargetWinRate > 1 {
			return fmt.Errorf("focus_seeds[%d]: target_win_rate must be within [0,1]", i)
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
