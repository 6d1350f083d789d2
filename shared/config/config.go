package config

import (
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	private Private
}

type Public struct {
	Sync     Sync          `yaml:"sync" validate:"required"`
	Realtime Realtime      `yaml:"realtime" validate:"required"`
	Thread   Thread        `yaml:"thread" validate:"required"`
	Server   Server        `yaml:"server"`
	JwtTTL   time.Duration `yaml:"jwt_ttl" validate:"required"`
	LogLevel string        `yaml:"log_level"`
	LogJSON  bool          `yaml:"log_json"`
}

// Sync bounds the life of optimistic mutations.
type Sync struct {
	ResponseTimeout time.Duration `yaml:"response_timeout" validate:"required"` // no answer within it: Failed and rolled back
	MaxPendingAge   time.Duration `yaml:"max_pending_age" validate:"required"`  // absolute bound, counted from submission
	SettleGrace     time.Duration `yaml:"settle_grace" validate:"required"`     // resolved entries kept to absorb late duplicates
	TickInterval    time.Duration `yaml:"tick_interval" validate:"required"`
}

type Realtime struct {
	ReconnectTimeout     time.Duration `yaml:"reconnect_timeout" validate:"required"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" validate:"required"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" validate:"required"`
	PingTimeout          time.Duration `yaml:"ping_timeout" validate:"required"`
	WriteTimeout         time.Duration `yaml:"write_timeout" validate:"required"`
	ReadTimeout          time.Duration `yaml:"read_timeout" validate:"required"`
	EventBuffer          int           `yaml:"event_buffer"`
}

type DepthMode string

const (
	DepthFlatten DepthMode = "flatten"
	DepthReject  DepthMode = "reject"
)

type Thread struct {
	MaxDepth         int       `yaml:"max_depth"` // 0 means unlimited
	DepthMode        DepthMode `yaml:"depth_mode" validate:"required,oneof=flatten reject"`
	MaxContentLength int       `yaml:"max_content_length" validate:"required"`
	RepliesPageSize  int       `yaml:"replies_page_size" validate:"required"`
}

type Server struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	HTTPS          bool     `yaml:"https"`
	// ReplyRate is replies per second per user; 0 disables the limit.
	ReplyRate  float64 `yaml:"reply_rate"`
	ReplyBurst int     `yaml:"reply_burst"`
	// ReadRate is anonymous-capable requests per second per client IP; 0 disables the limit.
	ReadRate  float64 `yaml:"read_rate"`
	ReadBurst int     `yaml:"read_burst"`
	// DedupeRetention is how long reply mutation ids are remembered; 0 keeps them forever.
	DedupeRetention time.Duration `yaml:"dedupe_retention"`
}

type Private struct {
	JwtKey string `yaml:"jwt_key" validate:"required"`
}

func (s *Config) JwtKey() string {
	return s.private.JwtKey
}

func (s *Config) JwtTTL() time.Duration {
	return s.Public.JwtTTL
}

// Default returns settings suitable for tests and local runs.
func Default() *Config {
	return &Config{
		Public: Public{
			Sync: Sync{
				ResponseTimeout: 10 * time.Second,
				MaxPendingAge:   60 * time.Second,
				SettleGrace:     30 * time.Second,
				TickInterval:    500 * time.Millisecond,
			},
			Realtime: Realtime{
				ReconnectTimeout:     2 * time.Second,
				MaxReconnectAttempts: 10,
				HandshakeTimeout:     5 * time.Second,
				PingTimeout:          15 * time.Second,
				WriteTimeout:         5 * time.Second,
				ReadTimeout:          45 * time.Second,
				EventBuffer:          64,
			},
			Thread: Thread{
				MaxDepth:         2,
				DepthMode:        DepthFlatten,
				MaxContentLength: 10000,
				RepliesPageSize:  100,
			},
			Server: Server{
				Addr:            ":8080",
				AllowedOrigins:  []string{"http://localhost:8081"},
				ReplyRate:       1,
				ReplyBurst:      5,
				ReadRate:        20,
				ReadBurst:       40,
				DedupeRetention: 10 * time.Minute,
			},
			JwtTTL:   24 * time.Hour,
			LogLevel: "info",
		},
		private: Private{JwtKey: "dev-secret"},
	}
}

// WithJwtKey returns a copy carrying the given signing key.
func (s *Config) WithJwtKey(key string) *Config {
	c := *s
	c.private.JwtKey = key
	return &c
}

func mustLoadPath(configPath string, output interface{}) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)

	if err != nil {
		panic("can't read config file")
	}

	err = yaml.UnmarshalStrict(configFile, output)
	if err != nil {
		panic("can't unmarshal config file: " + err.Error())
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(output); err != nil {
		panic("invalid config " + configPath + ": " + err.Error())
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	return &Config{public, private}
}
