package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	Auth      Auth      `mapstructure:"auth"`
	Upload    Upload    `mapstructure:"upload"`
	Detection Detection `mapstructure:"detection"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds configuration for the event stream. When Enabled is false the
// service runs without a broker and no events are published or consumed.
type Kafka struct {
	Enabled        bool     `mapstructure:"enabled"`
	GroupID        string   `mapstructure:"group_id"`        // consumer group ID
	UploadedTopic  string   `mapstructure:"uploaded_topic"`  // image.uploaded events
	ProcessedTopic string   `mapstructure:"processed_topic"` // image.processed events
	Brokers        []string `mapstructure:"brokers"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Auth holds OTP and token issuance configuration.
type Auth struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	OTPTTL     time.Duration `mapstructure:"otp_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	ExposeOTP  bool          `mapstructure:"expose_otp"` // include the code in the response (development only)
}

// Upload holds the intake policy for image uploads.
type Upload struct {
	MaxFileSize  int64    `mapstructure:"max_file_size"` // bytes
	MaxFiles     int      `mapstructure:"max_files"`     // per request
	AllowedTypes []string `mapstructure:"allowed_types"` // MIME allow-list
}

// Detection holds batch detection and provider configuration.
type Detection struct {
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	Provider     string        `mapstructure:"provider"` // "mock" or "remote"
	InferenceURL string        `mapstructure:"inference_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MockLatency  time.Duration `mapstructure:"mock_latency"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// mustBindEnv binds critical environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "MINIO_ACCESS_KEY",
		"storage.secret_key":   "MINIO_SECRET_KEY",
		"auth.jwt_secret":      "JWT_SECRET",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

func setDefaults() {
	viper.SetDefault("detection.max_batch_size", 10)
	viper.SetDefault("detection.provider", "mock")
	viper.SetDefault("detection.timeout", 30*time.Second)
	viper.SetDefault("upload.max_file_size", 5*1024*1024)
	viper.SetDefault("upload.max_files", 10)
	viper.SetDefault("upload.allowed_types", []string{
		"image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif",
	})
	viper.SetDefault("auth.token_ttl", 24*time.Hour)
	viper.SetDefault("auth.otp_ttl", 5*time.Minute)
	viper.SetDefault("auth.bcrypt_cost", 12)
}

// MustLoad loads the configuration from the ./config directory.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
