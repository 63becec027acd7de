// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CompletionPolicy decides when a judge result advances the session to the
// next task.
type CompletionPolicy string

const (
	// CompletionAllTests advances only when every visible and hidden test passes.
	CompletionAllTests CompletionPolicy = "all-tests"
	// CompletionOnSubmit advances on any accepted submission.
	CompletionOnSubmit CompletionPolicy = "on-submit"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	TasksDir    string

	SessionDuration  time.Duration
	TotalTasks       int
	SweepInterval    time.Duration
	CompletionPolicy CompletionPolicy

	Judge     JudgeConfig
	AntiCheat AntiCheatConfig
	Scoring   ScoringConfig
	AI        AIConfig
}

// JudgeConfig controls the sandboxed submission judge.
type JudgeConfig struct {
	Timeout          time.Duration
	ContainerRuntime string // Docker runtime: "" = default (runc), "runsc" = gVisor
	MemoryLimitBytes int64
}

// AntiCheatConfig controls trust score penalties.
type AntiCheatConfig struct {
	PasteCharThreshold  int
	LargePasteWarnChars int
	PerTypePenaltyCap   float64
}

// ScoringConfig carries the axis weights and letter thresholds. Weights are
// normalized at aggregation time so they need not sum to 1.
type ScoringConfig struct {
	WeightCorrectness   float64
	WeightOptimality    float64
	WeightStyle         float64
	WeightCommunication float64
	WeightSpeed         float64
	LetterThresholds    []LetterThreshold
}

// LetterThreshold maps a minimum overall score to a letter grade.
type LetterThreshold struct {
	Min    float64
	Letter string
}

// AIConfig controls the OpenAI-compatible interviewer collaborator.
type AIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptPath  string
	Temperature float64
	MaxTokens   int
}

// Enabled reports whether the AI interviewer is configured.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/hirecode.db"),
		TasksDir:    getEnv("TASKS_DIR", "./tasks"),

		SessionDuration:  getEnvDuration("SESSION_DURATION", 45*time.Minute),
		TotalTasks:       getEnvInt("SESSION_TOTAL_TASKS", 5),
		SweepInterval:    getEnvDuration("DEADLINE_SWEEP_INTERVAL", 30*time.Second),
		CompletionPolicy: CompletionPolicy(getEnv("COMPLETION_POLICY", string(CompletionAllTests))),

		Judge: JudgeConfig{
			Timeout:          getEnvDuration("JUDGE_TIMEOUT", 30*time.Second),
			ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
			MemoryLimitBytes: 512 * 1024 * 1024,
		},
		AntiCheat: AntiCheatConfig{
			PasteCharThreshold:  getEnvInt("ANTICHEAT_PASTE_THRESHOLD", 300),
			LargePasteWarnChars: getEnvInt("ANTICHEAT_PASTE_WARN_CHARS", 600),
			PerTypePenaltyCap:   getEnvFloat("ANTICHEAT_PER_TYPE_CAP", 45),
		},
		Scoring: ScoringConfig{
			WeightCorrectness:   getEnvFloat("SCORE_WEIGHT_CORRECTNESS", 0.35),
			WeightOptimality:    getEnvFloat("SCORE_WEIGHT_OPTIMALITY", 0.20),
			WeightStyle:         getEnvFloat("SCORE_WEIGHT_STYLE", 0.15),
			WeightCommunication: getEnvFloat("SCORE_WEIGHT_COMMUNICATION", 0.15),
			WeightSpeed:         getEnvFloat("SCORE_WEIGHT_SPEED", 0.15),
			LetterThresholds: []LetterThreshold{
				{Min: getEnvFloat("SCORE_LETTER_A", 90), Letter: "A"},
				{Min: getEnvFloat("SCORE_LETTER_B", 75), Letter: "B"},
				{Min: getEnvFloat("SCORE_LETTER_C", 60), Letter: "C"},
				{Min: getEnvFloat("SCORE_LETTER_D", 40), Letter: "D"},
			},
		},
		AI: AIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			PromptPath:  getEnv("OPENAI_PROMPT_PATH", "./prompts/system_prompt.txt"),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 512),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TasksDir == "" {
		return fmt.Errorf("TASKS_DIR cannot be empty")
	}
	if c.SessionDuration <= 0 {
		return fmt.Errorf("SESSION_DURATION must be > 0")
	}
	if c.TotalTasks <= 0 {
		return fmt.Errorf("SESSION_TOTAL_TASKS must be > 0")
	}
	switch c.CompletionPolicy {
	case CompletionAllTests, CompletionOnSubmit:
	default:
		return fmt.Errorf("COMPLETION_POLICY must be %q or %q", CompletionAllTests, CompletionOnSubmit)
	}
	weights := c.Scoring.WeightCorrectness + c.Scoring.WeightOptimality +
		c.Scoring.WeightStyle + c.Scoring.WeightCommunication + c.Scoring.WeightSpeed
	if weights <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
