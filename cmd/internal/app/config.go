package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"scoresws/cmd/internal/upstream"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when neither --config nor SCORESWS_CONFIG is set.
const DefaultConfigPath = "config.yaml"

// Config contains all runtime configuration.
//
// Values are layered: defaults, then the YAML file, then environment
// variables (a .env file in the working directory is loaded first).
type Config struct {
	Setup  SetupConfig  `yaml:"setup"`
	Osu    OsuConfig    `yaml:"osu"`
	Engine EngineConfig `yaml:"engine"`
	WS     WSConfig     `yaml:"ws"`
	HTTP   HTTPConfig   `yaml:"http"`
}

type SetupConfig struct {
	Log       string `yaml:"log"`
	LogFormat string `yaml:"log_format"`

	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`

	// Interval is the poll period in seconds.
	Interval      int     `yaml:"interval"`
	HistoryLength int     `yaml:"history_length"`
	ResumeScoreID *uint64 `yaml:"resume_score_id"`
}

type OsuConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Ruleset      string `yaml:"ruleset"`

	TokenURL  string `yaml:"token_url"`
	ScoresURL string `yaml:"scores_url"`

	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type EngineConfig struct {
	SubPollDelay      time.Duration `yaml:"sub_poll_delay"`
	MaxDeepenRounds   int           `yaml:"max_deepen_rounds"`
	CursorTooOldLimit int           `yaml:"cursor_too_old_limit"`
}

type WSConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	MaxBacklog        int           `yaml:"max_backlog"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`

	HandshakeFailMax    int           `yaml:"handshake_fail_max"`
	HandshakeFailWindow time.Duration `yaml:"handshake_fail_window"`
}

type HTTPConfig struct {
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Setup: SetupConfig{
			Log:           "info",
			LogFormat:     "json",
			Bind:          "127.0.0.1",
			Port:          7277,
			Interval:      60,
			HistoryLength: 100_000,
		},
		Osu: OsuConfig{
			TokenURL:          upstream.DefaultTokenURL,
			ScoresURL:         upstream.DefaultScoresURL,
			FetchTimeout:      10 * time.Second,
			BackoffInitial:    2 * time.Second,
			BackoffMax:        120 * time.Second,
			RequestsPerSecond: 2,
		},
		Engine: EngineConfig{
			SubPollDelay:      time.Second,
			MaxDeepenRounds:   50,
			CursorTooOldLimit: 5,
		},
		WS: WSConfig{
			HandshakeTimeout:  5 * time.Second,
			WriteTimeout:      5 * time.Second,
			HeartbeatInterval: 25 * time.Second,
			HeartbeatTimeout:  5 * time.Second,

			HandshakeFailMax:    10,
			HandshakeFailWindow: time.Minute,
		},
		HTTP: HTTPConfig{
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// LoadConfig builds the Config from path (or SCORESWS_CONFIG, or
// DefaultConfigPath) and the environment. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	// .env only fills variables that are not already set.
	_ = godotenv.Load()

	if strings.TrimSpace(path) == "" {
		path = EnvString("SCORESWS_CONFIG", DefaultConfigPath)
	}

	cfg := DefaultConfig()
	if err := loadFile(&cfg, path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	c.Setup.Log = EnvString("SCORESWS_LOG_LEVEL", c.Setup.Log)
	c.Setup.LogFormat = EnvString("SCORESWS_LOG_FORMAT", c.Setup.LogFormat)
	c.Setup.Bind = EnvString("SCORESWS_BIND", c.Setup.Bind)
	c.Setup.Port = EnvInt("SCORESWS_PORT", c.Setup.Port)
	c.Setup.Interval = EnvInt("SCORESWS_INTERVAL", c.Setup.Interval)
	c.Setup.HistoryLength = EnvInt("SCORESWS_HISTORY_LENGTH", c.Setup.HistoryLength)
	if id, ok := EnvUint64("SCORESWS_RESUME_SCORE_ID"); ok {
		c.Setup.ResumeScoreID = &id
	}

	c.Osu.ClientID = EnvString("SCORESWS_OSU_CLIENT_ID", c.Osu.ClientID)
	c.Osu.ClientSecret = EnvString("SCORESWS_OSU_CLIENT_SECRET", c.Osu.ClientSecret)
	c.Osu.Ruleset = EnvString("SCORESWS_OSU_RULESET", c.Osu.Ruleset)
	c.Osu.TokenURL = EnvString("SCORESWS_OSU_TOKEN_URL", c.Osu.TokenURL)
	c.Osu.ScoresURL = EnvString("SCORESWS_OSU_SCORES_URL", c.Osu.ScoresURL)
	c.Osu.FetchTimeout = EnvDuration("SCORESWS_OSU_FETCH_TIMEOUT", c.Osu.FetchTimeout)
	c.Osu.BackoffInitial = EnvDuration("SCORESWS_OSU_BACKOFF_INITIAL", c.Osu.BackoffInitial)
	c.Osu.BackoffMax = EnvDuration("SCORESWS_OSU_BACKOFF_MAX", c.Osu.BackoffMax)
	c.Osu.RequestsPerSecond = EnvFloat("SCORESWS_OSU_RPS", c.Osu.RequestsPerSecond)

	c.Engine.SubPollDelay = EnvDuration("SCORESWS_SUB_POLL_DELAY", c.Engine.SubPollDelay)
	c.Engine.MaxDeepenRounds = EnvInt("SCORESWS_MAX_DEEPEN_ROUNDS", c.Engine.MaxDeepenRounds)
	c.Engine.CursorTooOldLimit = EnvInt("SCORESWS_CURSOR_TOO_OLD_LIMIT", c.Engine.CursorTooOldLimit)

	c.WS.HandshakeTimeout = EnvDuration("SCORESWS_WS_HANDSHAKE_TIMEOUT", c.WS.HandshakeTimeout)
	c.WS.WriteTimeout = EnvDuration("SCORESWS_WS_WRITE_TIMEOUT", c.WS.WriteTimeout)
	c.WS.HeartbeatInterval = EnvDuration("SCORESWS_WS_HEARTBEAT_INTERVAL", c.WS.HeartbeatInterval)
	c.WS.HeartbeatTimeout = EnvDuration("SCORESWS_WS_HEARTBEAT_TIMEOUT", c.WS.HeartbeatTimeout)
	c.WS.MaxBacklog = EnvInt("SCORESWS_WS_MAX_BACKLOG", c.WS.MaxBacklog)
	c.WS.AllowedOrigins = EnvCSV("SCORESWS_WS_ALLOWED_ORIGINS", c.WS.AllowedOrigins)
	c.WS.HandshakeFailMax = EnvInt("SCORESWS_WS_HANDSHAKE_FAIL_MAX", c.WS.HandshakeFailMax)
	c.WS.HandshakeFailWindow = EnvDuration("SCORESWS_WS_HANDSHAKE_FAIL_WINDOW", c.WS.HandshakeFailWindow)
}

var rulesets = []string{"osu", "taiko", "fruits", "mania"}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Osu.ClientID) == "" {
		return errors.New("osu.client_id is required")
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(c.Osu.ClientID), 10, 64); err != nil {
		return fmt.Errorf("osu.client_id must be numeric: %q", c.Osu.ClientID)
	}
	if strings.TrimSpace(c.Osu.ClientSecret) == "" {
		return errors.New("osu.client_secret is required")
	}
	if c.Osu.Ruleset != "" && !slices.Contains(rulesets, c.Osu.Ruleset) {
		return fmt.Errorf(`osu.ruleset must be "osu", "taiko", "fruits", or "mania", got %q`, c.Osu.Ruleset)
	}

	if c.Setup.Port <= 0 || c.Setup.Port > 65535 {
		return fmt.Errorf("setup.port out of range: %d", c.Setup.Port)
	}
	if c.Setup.Interval <= 0 {
		return fmt.Errorf("setup.interval must be positive: %d", c.Setup.Interval)
	}
	if c.Setup.HistoryLength <= 0 {
		return fmt.Errorf("setup.history_length must be positive: %d", c.Setup.HistoryLength)
	}

	switch strings.ToLower(c.Setup.LogFormat) {
	case "json", "pretty":
	default:
		return fmt.Errorf(`setup.log_format must be "json" or "pretty", got %q`, c.Setup.LogFormat)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Setup.Bind, strconv.Itoa(c.Setup.Port))
}

// PollInterval returns the engine tick period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Setup.Interval) * time.Second
}
