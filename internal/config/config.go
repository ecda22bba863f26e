package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatrelay/internal/logger"
)

// loadEnv reads .env outside production; in containers config comes from env only.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(dir + "/.env")
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// RelayConfig holds the timings and limits of the event router.
type RelayConfig struct {
	TypingCountdown time.Duration
	TypingStale     time.Duration
	TypingSweep     time.Duration
	HistoryLimit    int
	MaxPageSize     int
	DefaultRoom     string
}

// PresenceConfig configures the optional redis presence mirror.
type PresenceConfig struct {
	RedisURL string
	TTL      time.Duration
}

// Config priority: environment > YAML file > defaults.
type Config struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxWSConnections int
	WSSendBufferSize int
	WSWriteTimeout   time.Duration
	WSPongTimeout    time.Duration
	WSMaxMessageSize int64
	// WSConnectRate caps upgrade attempts per client IP per minute; 0 disables.
	WSConnectRate    int

	CORSAllowedOrigins string
	LogLevel           string

	Relay    RelayConfig
	Presence PresenceConfig
}

// CORSOrigins splits the comma separated origin list.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

type yamlConfig struct {
	ServerAddr         string `yaml:"server_addr"`
	ReadTimeout        int    `yaml:"read_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	IdleTimeout        int    `yaml:"idle_timeout"`
	MaxWSConnections   int    `yaml:"max_ws_connections"`
	WSSendBufferSize   int    `yaml:"ws_send_buffer_size"`
	WSWriteTimeout     int    `yaml:"ws_write_timeout"`
	WSPongTimeout      int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize   int    `yaml:"ws_max_message_size"`
	WSConnectRate      int    `yaml:"ws_connect_rate"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`
	TypingCountdownMS  int    `yaml:"typing_countdown_ms"`
	TypingStaleMS      int    `yaml:"typing_stale_ms"`
	TypingSweepMS      int    `yaml:"typing_sweep_ms"`
	HistoryLimit       int    `yaml:"history_limit"`
	MaxPageSize        int    `yaml:"max_page_size"`
	DefaultRoom        string `yaml:"default_room"`
	RedisURL           string `yaml:"redis_url"`
	PresenceTTLSeconds int    `yaml:"presence_ttl_seconds"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:         ":3001",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		WSWriteTimeout:     10,
		WSPongTimeout:      60,
		WSMaxMessageSize:   16384,
		WSConnectRate:      60,
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
		TypingCountdownMS:  3000,
		TypingStaleMS:      5000,
		TypingSweepMS:      5000,
		HistoryLimit:       50,
		MaxPageSize:        100,
		DefaultRoom:        "general",
		PresenceTTLSeconds: 120,
	}
}

// Load reads .env, then CONFIG_PATH or config/relay.yaml, then the environment.
func Load() *Config {
	loadEnv()
	return load(os.Getenv("CONFIG_PATH"), "config/relay.yaml")
}

func load(paths ...string) *Config {
	yc := defaults()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        seconds(envInt("READ_TIMEOUT", yc.ReadTimeout)),
		WriteTimeout:       seconds(envInt("WRITE_TIMEOUT", yc.WriteTimeout)),
		IdleTimeout:        seconds(envInt("IDLE_TIMEOUT", yc.IdleTimeout)),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:     seconds(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)),
		WSPongTimeout:      seconds(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)),
		WSMaxMessageSize:   int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		WSConnectRate:      envInt("WS_CONNECT_RATE", yc.WSConnectRate),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		Relay: RelayConfig{
			TypingCountdown: millis(envInt("TYPING_COUNTDOWN_MS", yc.TypingCountdownMS)),
			TypingStale:     millis(envInt("TYPING_STALE_MS", yc.TypingStaleMS)),
			TypingSweep:     millis(envInt("TYPING_SWEEP_MS", yc.TypingSweepMS)),
			HistoryLimit:    envInt("HISTORY_LIMIT", yc.HistoryLimit),
			MaxPageSize:     envInt("MAX_PAGE_SIZE", yc.MaxPageSize),
			DefaultRoom:     envStr("DEFAULT_ROOM", yc.DefaultRoom),
		},
		Presence: PresenceConfig{
			RedisURL: envStr("REDIS_URL", yc.RedisURL),
			TTL:      seconds(envInt("PRESENCE_TTL_SECONDS", yc.PresenceTTLSeconds)),
		},
	}
	cfg.Relay.normalize()

	if os.Getenv("APP_ENV") == "production" && cfg.CORSAllowedOrigins == "*" {
		logger.Errorf("config: set CORS_ALLOWED_ORIGINS to an explicit list in production")
	}
	return cfg
}

// normalize replaces non-positive values with the defaults.
func (r *RelayConfig) normalize() {
	d := defaults()
	if r.TypingCountdown <= 0 {
		r.TypingCountdown = millis(d.TypingCountdownMS)
	}
	if r.TypingStale <= 0 {
		r.TypingStale = millis(d.TypingStaleMS)
	}
	if r.TypingSweep <= 0 {
		r.TypingSweep = millis(d.TypingSweepMS)
	}
	if r.HistoryLimit <= 0 {
		r.HistoryLimit = d.HistoryLimit
	}
	if r.MaxPageSize <= 0 {
		r.MaxPageSize = d.MaxPageSize
	}
	if r.DefaultRoom == "" {
		r.DefaultRoom = d.DefaultRoom
	}
}

// DefaultRelay returns the router settings used when nothing is configured.
func DefaultRelay() RelayConfig {
	var r RelayConfig
	r.normalize()
	return r
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
