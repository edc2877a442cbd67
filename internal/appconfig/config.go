package appconfig

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API           APIConfig           `yaml:"api"`
	Matchmaking   MatchmakingConfig   `yaml:"matchmaking"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Observability ObservabilityConfig `yaml:"observability"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
	InstanceID  string `yaml:"instance_id"`
}

type APIConfig struct {
	Port               int        `yaml:"port"`
	GinMode            string     `yaml:"gin_mode"`
	DatabaseURL        string     `yaml:"database_url"`
	RedisURL           string     `yaml:"redis_url"`
	Auth               AuthConfig `yaml:"auth"`
	Limits             APILimits  `yaml:"limits"`
	Metrics            Metrics    `yaml:"metrics"`
	ShutdownTimeoutSec int        `yaml:"shutdown_timeout_sec"`
	SSEHeartbeatSec    int        `yaml:"sse_heartbeat_sec"`
	CORSOrigins        []string   `yaml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	MetricsToken string `yaml:"metrics_token"`
}

type APILimits struct {
	SubmitBodyMaxBytes int64           `yaml:"submit_body_max_bytes"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	UserLimit int `yaml:"user_limit"`
	WindowSec int `yaml:"window_sec"`
}

type MatchmakingConfig struct {
	RoomTTLSec        int            `yaml:"room_ttl_sec"`
	StaleMatchSec     int            `yaml:"stale_match_sec"`
	RoomScanLimit     int            `yaml:"room_scan_limit"`
	RoomDeleteGraceMs int            `yaml:"room_delete_grace_ms"`
	RankPointsPerWin  int            `yaml:"rank_points_per_win"`
	TxnMaxAttempts    int            `yaml:"txn_max_attempts"`
	ProblemCacheTTL   int            `yaml:"problem_cache_ttl_sec"`
	Dispatch          DispatchConfig `yaml:"dispatch"`
}

type DispatchConfig struct {
	IntervalMs   int `yaml:"interval_ms"`
	MaxAttempts  int `yaml:"max_attempts"`
	BackoffMs    int `yaml:"backoff_ms"`
	BackoffCapMs int `yaml:"backoff_cap_ms"`
}

type SweeperConfig struct {
	Enabled     *bool   `yaml:"enabled"`
	RedisURL    string  `yaml:"redis_url"`
	IntervalSec int     `yaml:"interval_sec"`
	DryRun      *bool   `yaml:"dry_run"`
	MetricsPort int     `yaml:"metrics_port"`
	Metrics     Metrics `yaml:"metrics"`
}

type Metrics struct {
	ServiceName string `yaml:"service_name"`
	InstanceID  string `yaml:"instance_id"`
}

type RedisConfig struct {
	PoolSize       int `yaml:"pool_size"`
	MinIdleConns   int `yaml:"min_idle_conns"`
	DialTimeoutMs  int `yaml:"dial_timeout_ms"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

type PostgresConfig struct {
	MaxConns           int `yaml:"max_conns"`
	MinConns           int `yaml:"min_conns"`
	MaxConnLifetimeMin int `yaml:"max_conn_lifetime_min"`
	MaxConnIdleMin     int `yaml:"max_conn_idle_min"`
}

func ResolveConfigPath() string {
	if v := os.Getenv("APP_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	if _, err := os.Stat("/app/config.yaml"); err == nil {
		return "/app/config.yaml"
	}
	return ""
}

func Load() (*Config, string, error) {
	path := ResolveConfigPath()
	if path == "" {
		return &Config{}, "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func SetEnvIfEmpty(key, value string) {
	if value == "" {
		return
	}
	if _, ok := os.LookupEnv(key); ok {
		return
	}
	_ = os.Setenv(key, value)
}

func SetEnvIfEmptyInt(key string, value int) {
	if value <= 0 {
		return
	}
	SetEnvIfEmpty(key, strconv.Itoa(value))
}

func SetEnvIfEmptyInt64(key string, value int64) {
	if value <= 0 {
		return
	}
	SetEnvIfEmpty(key, strconv.FormatInt(value, 10))
}

func SetEnvIfEmptyBool(key string, value *bool) {
	if value == nil {
		return
	}
	SetEnvIfEmpty(key, strconv.FormatBool(*value))
}

func SetEnvIfEmptySlice(key string, values []string) {
	if len(values) == 0 {
		return
	}
	SetEnvIfEmpty(key, strings.Join(values, ","))
}
