package config

import (
	"time"

	"github.com/spf13/viper"
)

// Everything is read from environment variables so the client can run
// the same way on a laptop (IS_LOCAL_DEV, LocalStack, mock backend) and
// against the real backend.

type Config struct {
	DBHost             string        `mapstructure:"DB_HOST"`
	DBPort             string        `mapstructure:"DB_PORT"`
	DBUser             string        `mapstructure:"DB_USER"`
	DBPassword         string        `mapstructure:"DB_PASSWORD"`
	DBName             string        `mapstructure:"DB_NAME"`
	ServerPort         string        `mapstructure:"SERVER_PORT"`
	MockPort           string        `mapstructure:"MOCK_PORT"`
	AWSRegion          string        `mapstructure:"AWS_REGION"`
	AWSEndpoint        string        `mapstructure:"AWS_ENDPOINT"`
	ChangesSQSQueueURL string        `mapstructure:"CHANGES_SQS_QUEUE_URL"`
	CallableBaseURL    string        `mapstructure:"CALLABLE_BASE_URL"`
	CallableTimeout    time.Duration `mapstructure:"CALLABLE_TIMEOUT"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	OTLPEndpoint       string        `mapstructure:"OTLP_ENDPOINT"`
	IsLocalDev         bool          `mapstructure:"IS_LOCAL_DEV"`
}

// LoadConfig reads configuration from environment variables, falling back to defaults.
func LoadConfig() (config Config, err error) {
	v := viper.New()

	v.SetDefault("DB_HOST", "db")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "attendance_db")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("MOCK_PORT", "8081")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	v.SetDefault("CHANGES_SQS_QUEUE_URL", "http://localstack:4566/000000000000/document-changes")
	v.SetDefault("CALLABLE_BASE_URL", "http://localhost:8081/")
	v.SetDefault("CALLABLE_TIMEOUT", "10s")
	v.SetDefault("AUTH_SIGNING_KEY", "local-dev-signing-key")
	v.SetDefault("OTLP_ENDPOINT", "jaeger:4317")
	v.SetDefault("IS_LOCAL_DEV", false)

	// Read in environment variables that match the keys.
	v.AutomaticEnv()

	err = v.Unmarshal(&config)
	return
}
