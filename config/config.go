// Package config loads node settings from defaults, an optional YAML file
// and the environment, in that order, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/securesignal/session"
	"github.com/opd-ai/securesignal/summary"
	"github.com/opd-ai/securesignal/transport"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config holds all node settings.
type Config struct {
	// Mode is "direct" for a two-party encrypted chat or "group" for a
	// host-relayed room.
	Mode string `yaml:"mode" env:"SECURECHAT_MODE" validate:"required,oneof=direct group"`

	// ListenHost is the interface the node listens on. The node's identity
	// is host:port.
	ListenHost   string        `yaml:"listen_host" env:"SECURECHAT_LISTEN_HOST" validate:"required,hostname|ip"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"SECURECHAT_DIAL_TIMEOUT" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SECURECHAT_WRITE_TIMEOUT" validate:"gt=0"`

	// StorePath is the BadgerDB directory for the saved identity. Empty
	// keeps it in memory only.
	StorePath string `yaml:"store_path" env:"SECURECHAT_STORE_PATH"`

	LogLevel  string `yaml:"log_level" env:"SECURECHAT_LOG_LEVEL" validate:"required,oneof=trace debug info warn warning error"`
	LogFormat string `yaml:"log_format" env:"SECURECHAT_LOG_FORMAT" validate:"required,oneof=text json"`

	// GeminiAPIKey enables summaries and reply suggestions.
	GeminiAPIKey string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel  string `yaml:"gemini_model" env:"SECURECHAT_GEMINI_MODEL" validate:"required"`
}

// Default returns the built-in settings.
func Default() Config {
	tcp := transport.DefaultTCPOptions()
	return Config{
		Mode:         string(session.ModeDirect),
		ListenHost:   tcp.ListenHost,
		DialTimeout:  tcp.DialTimeout,
		WriteTimeout: tcp.WriteTimeout,
		LogLevel:     "warn",
		LogFormat:    "text",
		GeminiModel:  summary.DefaultGeminiModel,
	}
}

// Load builds a Config. path names an optional YAML file; envFiles are
// dotenv files loaded into the environment first, missing ones are
// skipped. Variables already set in the environment win over dotenv
// values.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     path,
		"mode":     cfg.Mode,
		"gemini":   cfg.GeminiAPIKey != "",
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Session returns the coordinator settings. joinRoom is empty for a host.
func (c Config) Session(joinRoom string) session.Config {
	return session.Config{Mode: session.Mode(c.Mode), JoinRoom: joinRoom}
}

// TCP returns the transport settings.
func (c Config) TCP() transport.TCPOptions {
	return transport.TCPOptions{
		ListenHost:   c.ListenHost,
		DialTimeout:  c.DialTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// ApplyLogging configures the global logrus logger.
func (c Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
