package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Codec struct {
	Kind        string `yaml:"kind"`
	MimeType    string `yaml:"mime_type"`
	ClockRate   uint32 `yaml:"clock_rate"`
	Channels    uint16 `yaml:"channels,omitempty"`
	PayloadType uint8  `yaml:"payload_type"`
	Fmtp        string `yaml:"fmtp,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBuffer     int           `yaml:"send_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Media struct {
		Workers    int         `yaml:"workers"` // 0 means one per CPU
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		Codecs                 []Codec       `yaml:"codecs"`
		MaxIncomingBitrate     int           `yaml:"max_incoming_bitrate"`
		InitialOutgoingBitrate int           `yaml:"initial_outgoing_bitrate"`
		HandshakeTimeout       time.Duration `yaml:"handshake_timeout"`
		SpeakerInterval        time.Duration `yaml:"speaker_interval"`
		WorkerRestart          struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"worker_restart"`
	} `yaml:"media"`

	Conference struct {
		ActiveSpeakerWindow  int    `yaml:"active_speaker_window"`
		NewProducerPlacement string `yaml:"new_producer_placement"`
	} `yaml:"conference"`

	HLS struct {
		Enabled    bool   `yaml:"enabled"`
		OutputDir  string `yaml:"output_dir"`
		ListenIP   string `yaml:"listen_ip"`
		BasePort   int    `yaml:"base_port"`
		PublicPath string `yaml:"public_path"`
	} `yaml:"hls"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
		HealthPath        string `yaml:"health_path"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled    bool   `yaml:"enabled"`
		Address    string `yaml:"address"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		PoolSize   int    `yaml:"pool_size"`
		KeyPrefix  string `yaml:"key_prefix"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		Issuer    string        `yaml:"issuer"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Client struct {
		ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
		ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
		ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
		RequestTimeout       time.Duration `yaml:"request_timeout"`
	} `yaml:"client"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" || c.Signal.Path[0] != '/' {
		return fmt.Errorf("signal.path must start with /")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.RequestTimeout <= 0 {
		return fmt.Errorf("signal.request_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}

	// Media
	if c.Media.Workers < 0 {
		return fmt.Errorf("media.workers must be >= 0")
	}
	if c.Media.PortRange.Min > 0 || c.Media.PortRange.Max > 0 {
		if c.Media.PortRange.Min == 0 || c.Media.PortRange.Max == 0 {
			return fmt.Errorf("media.port_range.min and max must both be set when one is set")
		}
		if c.Media.PortRange.Min >= c.Media.PortRange.Max {
			return fmt.Errorf("media.port_range.min must be < max")
		}
	}
	if len(c.Media.Codecs) == 0 {
		return fmt.Errorf("media.codecs must not be empty")
	}
	for i, codec := range c.Media.Codecs {
		if codec.Kind != "audio" && codec.Kind != "video" {
			return fmt.Errorf("media.codecs[%d].kind must be audio or video", i)
		}
		if codec.MimeType == "" || codec.ClockRate == 0 {
			return fmt.Errorf("media.codecs[%d] needs mime_type and clock_rate", i)
		}
		if codec.PayloadType < 96 || codec.PayloadType > 127 {
			return fmt.Errorf("media.codecs[%d].payload_type must be dynamic (96-127)", i)
		}
	}
	if c.Media.HandshakeTimeout <= 0 {
		return fmt.Errorf("media.handshake_timeout must be > 0")
	}
	if c.Media.SpeakerInterval <= 0 {
		return fmt.Errorf("media.speaker_interval must be > 0")
	}

	// Conference
	if c.Conference.ActiveSpeakerWindow <= 0 {
		return fmt.Errorf("conference.active_speaker_window must be > 0")
	}
	switch c.Conference.NewProducerPlacement {
	case "tail", "head":
	default:
		return fmt.Errorf("conference.new_producer_placement must be tail or head")
	}

	// HLS
	if c.HLS.Enabled {
		if c.HLS.OutputDir == "" {
			return fmt.Errorf("hls.output_dir must not be empty when hls.enabled=true")
		}
		if c.HLS.BasePort <= 0 || c.HLS.BasePort > 65534 {
			return fmt.Errorf("hls.base_port must be in 1-65534")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Client
	if c.Client.ReconnectBaseDelay <= 0 || c.Client.ReconnectMaxDelay < c.Client.ReconnectBaseDelay {
		return fmt.Errorf("client reconnect delays must satisfy 0 < base <= max")
	}
	if c.Client.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("client.reconnect_max_attempts must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.RequestTimeout = 15 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024
	cfg.Signal.SendBuffer = 64
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Media.Workers = 0
	cfg.Media.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.Media.PortRange.Min = 40000
	cfg.Media.PortRange.Max = 49999
	cfg.Media.Codecs = []Codec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111, Fmtp: "minptime=10;useinbandfec=1"},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	}
	cfg.Media.MaxIncomingBitrate = 1_500_000
	cfg.Media.InitialOutgoingBitrate = 1_000_000
	cfg.Media.HandshakeTimeout = 10 * time.Second
	cfg.Media.SpeakerInterval = 300 * time.Millisecond
	cfg.Media.WorkerRestart.MaxAttempts = 5
	cfg.Media.WorkerRestart.InitialDelay = 200 * time.Millisecond
	cfg.Media.WorkerRestart.MaxDelay = 5 * time.Second

	cfg.Conference.ActiveSpeakerWindow = 5
	cfg.Conference.NewProducerPlacement = "tail"

	cfg.HLS.Enabled = false
	cfg.HLS.OutputDir = "./hls"
	cfg.HLS.ListenIP = "127.0.0.1"
	cfg.HLS.BasePort = 5004
	cfg.HLS.PublicPath = "/hls"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"
	cfg.Monitoring.HealthPath = "/health"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "huddle-signal"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "huddle"

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 2 * time.Hour
	cfg.Auth.Issuer = "huddle"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100

	cfg.Client.ReconnectBaseDelay = time.Second
	cfg.Client.ReconnectMaxDelay = 10 * time.Second
	cfg.Client.ReconnectMaxAttempts = 5
	cfg.Client.RequestTimeout = 15 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("HUDDLE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("HUDDLE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("HUDDLE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("HUDDLE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if id := os.Getenv("HUDDLE_INSTANCE_ID"); id != "" {
		c.Redis.InstanceID = id
	}
	if workers := os.Getenv("HUDDLE_MEDIA_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			c.Media.Workers = n
		}
	}
	if dir := os.Getenv("HUDDLE_HLS_OUTPUT_DIR"); dir != "" {
		c.HLS.OutputDir = dir
	}
}
