package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ResponderSimulated = "simulated"
	ResponderRemote    = "remote"

	DefaultEndpoint = "http://localhost:8000/api/chat"
	DefaultModel    = "gpt-3.5-turbo"
	DefaultDBPath   = "metachat.db"
	DefaultLogDir   = "logs"

	// CredentialKey is the store key holding the API key
	CredentialKey = "openai_api_key"

	DefaultSimulatedDelay = 1000 * time.Millisecond
)

// ErrInvalid is returned by Validate for unusable settings
var ErrInvalid = errors.New("invalid config")

// Config holds application configuration
type Config struct {
	Endpoint  string `toml:"endpoint"`
	Model     string `toml:"model"`
	Responder string `toml:"responder"` // initial mode: simulated|remote
	DBPath    string `toml:"db_path"`
	LogDir    string `toml:"log_dir"`
	Debug     bool   `toml:"debug"`
	Markdown  bool   `toml:"markdown"` // render AI replies as markdown

	SimulatedDelayMS int `toml:"simulated_delay_ms"`
}

// Default returns the configuration used when no file or flags are given
func Default() Config {
	return Config{
		Endpoint:         DefaultEndpoint,
		Model:            DefaultModel,
		Responder:        ResponderSimulated,
		DBPath:           DefaultDBPath,
		LogDir:           DefaultLogDir,
		SimulatedDelayMS: int(DefaultSimulatedDelay / time.Millisecond),
	}
}

// Load reads a TOML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	return cfg, nil
}

// SimulatedDelay is the pause before the simulated responder answers
func (c Config) SimulatedDelay() time.Duration {
	return time.Duration(c.SimulatedDelayMS) * time.Millisecond
}

// UseSimulated reports whether the controller starts with the simulated responder
func (c Config) UseSimulated() bool {
	return c.Responder != ResponderRemote
}

// Validate checks the settings that would otherwise fail late
func (c Config) Validate() error {
	switch c.Responder {
	case ResponderSimulated, ResponderRemote:
	default:
		return fmt.Errorf("%w: unknown responder %q (simulated|remote)", ErrInvalid, c.Responder)
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalid, c.Endpoint)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model is empty", ErrInvalid)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db path is empty", ErrInvalid)
	}
	if c.SimulatedDelayMS < 0 {
		return fmt.Errorf("%w: negative simulated delay", ErrInvalid)
	}

	return nil
}
