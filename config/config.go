package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"proofofwork/core/genesis"
)

const (
	EnvEnvironment = "POW_ENV"
	EnvJWTSecret   = "POW_RPC_JWT_SECRET"
	EnvDataDir     = "POW_DATA_DIR"
)

type Config struct {
	ListenAddress string              `toml:"ListenAddress"`
	DataDir       string              `toml:"DataDir"`
	NetworkName   string              `toml:"NetworkName"`
	Environment   string              `toml:"Environment"`
	Owner         string              `toml:"Owner"`
	Geofence      Geofence            `toml:"Geofence"`
	Auth          Auth                `toml:"Auth"`
	RateLimit     RateLimit           `toml:"RateLimit"`
	CORS          CORS                `toml:"CORS"`
	Indexer       Indexer             `toml:"Indexer"`
	Telemetry     Telemetry           `toml:"Telemetry"`
	Log           Log                 `toml:"Log"`
	Genesis       []genesis.AllocSpec `toml:"Genesis"`
}

// Geofence selects the distance metric applied to every verification.
type Geofence struct {
	Metric          string `toml:"Metric"`
	CoordinateScale uint64 `toml:"CoordinateScale"`
}

type Auth struct {
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
	// AllowAnonymousReads admits tokenless reads. Create and cancel always
	// require a token; verify and retry never do.
	AllowAnonymousReads bool `toml:"AllowAnonymousReads"`
	ClockSkewSeconds    int  `toml:"ClockSkewSeconds"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

type CORS struct {
	AllowedOrigins []string `toml:"AllowedOrigins"`
}

// Indexer configures the SQL projection used for listings.
type Indexer struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers"`
}

type Log struct {
	Level       string `toml:"Level"`
	File        string `toml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
	LogRequests bool   `toml:"LogRequests"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults. Environment overrides are applied last and never
// written back to disk.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = Default()
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the settings written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./pow-data",
		NetworkName:   "pow-local",
		Environment:   "dev",
		Geofence: Geofence{
			Metric: "planar",
		},
		Auth: Auth{
			Issuer:              "escrowd",
			Audience:            "escrow-clients",
			AllowAnonymousReads: true,
			ClockSkewSeconds:    120,
		},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Indexer:   Indexer{Driver: "sqlite", DSN: "explorer.db"},
		Log:       Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Genesis:   []genesis.AllocSpec{},
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEnvironment)); v != "" {
		c.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "pow-local"
	}
	if strings.TrimSpace(c.Geofence.Metric) == "" {
		c.Geofence.Metric = "planar"
	}
	c.Geofence.Metric = strings.ToLower(strings.TrimSpace(c.Geofence.Metric))
	if c.Genesis == nil {
		c.Genesis = []genesis.AllocSpec{}
	}
}

// IndexerDSN resolves a relative SQLite DSN against the data directory.
func (c *Config) IndexerDSN() string {
	dsn := strings.TrimSpace(c.Indexer.DSN)
	driver := strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
	if driver != "" && driver != "sqlite" {
		return dsn
	}
	if dsn == "" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(c.DataDir, dsn)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
