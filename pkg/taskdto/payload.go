package taskdto

// Payload parameterises simulate and train requests. Zero fields take the
// configured defaults.
type Payload struct {
	Game       Game    `json:"game"`
	Games      int     `json:"games,omitempty"`
	MaxPlies   int     `json:"maxPlies,omitempty"`
	MaxRounds  int     `json:"maxRounds,omitempty"`
	Randomness float64 `json:"randomness,omitempty"`
	Seed       int64   `json:"seed,omitempty"`
	StartFEN   string  `json:"startFen,omitempty"`
	// Fresh trains from scratch instead of continuing the stored model.
	Fresh bool `json:"fresh,omitempty"`
}

type SimulateResult struct {
	Game       Game `json:"game"`
	Games      int  `json:"games"`
	Samples    int  `json:"samples"`
	Wins       int  `json:"wins"`
	Losses     int  `json:"losses"`
	Draws      int  `json:"draws"`
	Fusions    int  `json:"fusions,omitempty"`
	AvgSamples int  `json:"avgSamples"`
}

type TrainResult struct {
	Game     Game           `json:"game"`
	RunID    string         `json:"runId"`
	Samples  int            `json:"samples"`
	Contexts int            `json:"contexts"`
	ModelKey string         `json:"modelKey"`
	Summary  map[string]any `json:"summary,omitempty"`
}
