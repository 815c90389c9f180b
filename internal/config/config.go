package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	IsolationProcess = "process"
	IsolationInline  = "inline"
)

type Config struct {
	Server Server
	Jobs   Jobs
	Redis  Redis
	Log    Log
}

type Server struct {
	Port           int           `env:"GRIDJOBS_PORT" envDefault:"5100"`
	MaxUploadBytes int64         `env:"GRIDJOBS_MAX_UPLOAD_BYTES" envDefault:"536870912"`
	ReadTimeout    time.Duration `env:"GRIDJOBS_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout   time.Duration `env:"GRIDJOBS_WRITE_TIMEOUT" envDefault:"10m"`
}

type Jobs struct {
	ScratchRoot    string        `env:"GRIDJOBS_SCRATCH_ROOT"`
	MaxWorkers     int           `env:"GRIDJOBS_MAX_WORKERS" envDefault:"4"`
	Isolation      string        `env:"GRIDJOBS_ISOLATION" envDefault:"process"`
	TaskTTL        time.Duration `env:"GRIDJOBS_TASK_TTL" envDefault:"24h"`
	ReapInterval   time.Duration `env:"GRIDJOBS_REAP_INTERVAL" envDefault:"1m"`
	OpsFile        string        `env:"GRIDJOBS_OPS_FILE"`
	NOAABaseURL    string        `env:"GRIDJOBS_NOAA_BASE_URL"`
	WeatherTimeout time.Duration `env:"GRIDJOBS_WEATHER_TIMEOUT" envDefault:"2m"`
}

// Redis is optional: with an empty address lifecycle events are only logged.
type Redis struct {
	Addr         string `env:"Redis_Address"`
	Password     string `env:"Redis_Password"`
	DB           int    `env:"Redis_DB"`
	EventsStream string `env:"Redis_EventsStream" envDefault:"gridjobs:events"`
	MaxLen       int64  `env:"Redis_EventsMaxLen" envDefault:"10000"`
}

type Log struct {
	Level  string `env:"GRIDJOBS_LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"GRIDJOBS_LOG_PRETTY"`
}

// Parse reads the environment, after loading .env when present.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	if c.Jobs.ScratchRoot == "" {
		c.Jobs.ScratchRoot = filepath.Join(os.TempDir(), "gridjobs")
	}
	switch c.Jobs.Isolation {
	case IsolationProcess, IsolationInline:
	default:
		return nil, fmt.Errorf("GRIDJOBS_ISOLATION must be %q or %q, got %q", IsolationProcess, IsolationInline, c.Jobs.Isolation)
	}
	if c.Jobs.MaxWorkers <= 0 {
		return nil, fmt.Errorf("GRIDJOBS_MAX_WORKERS must be positive, got %d", c.Jobs.MaxWorkers)
	}
	if c.Jobs.ReapInterval <= 0 {
		return nil, fmt.Errorf("GRIDJOBS_REAP_INTERVAL must be positive, got %s", c.Jobs.ReapInterval)
	}
	return &c, nil
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return c
}
