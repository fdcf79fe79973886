package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Session    SessionConfig    `mapstructure:"session"`
	Game       GameConfig       `mapstructure:"game"`
	Tournament TournamentConfig `mapstructure:"tournament"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type StoreConfig struct {
	// Driver is one of memory, postgres, redis.
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Listen enables the LISTEN/NOTIFY change feed between nodes.
	Listen bool `mapstructure:"listen"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	PinAttempts   int           `mapstructure:"pin_attempts"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type GameConfig struct {
	WinMargin int `mapstructure:"win_margin"`
}

type PointsConfig struct {
	Win  int `mapstructure:"win"`
	Draw int `mapstructure:"draw"`
	Loss int `mapstructure:"loss"`
}

type TournamentConfig struct {
	Points PointsConfig `mapstructure:"points"`
}

// AuthConfig enables bearer tokens when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ArchiveConfig enables the S3 archive when Bucket is set.
type ArchiveConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", ":9100")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "babyfoot")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.listen", true)
	v.SetDefault("store.redis.url", "redis://localhost:6379/0")

	v.SetDefault("session.ttl", 5*time.Minute)
	v.SetDefault("session.pin_attempts", 16)
	v.SetDefault("session.sweep_interval", 30*time.Second)

	v.SetDefault("game.win_margin", 1)

	v.SetDefault("tournament.points.win", 3)
	v.SetDefault("tournament.points.draw", 1)
	v.SetDefault("tournament.points.loss", 0)

	v.SetDefault("log.development", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "babyfoot")
	v.SetDefault("archive.region", "auto")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
}

// LoadConfig reads config.yaml from path when present. Environment variables
// override file values (store.driver ← STORE_DRIVER); a .env file in the
// working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
