package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret             string
		SignInMessage         string
		AccessTokenTTLMinutes int
		RefreshTokenTTLHours  int
		PurgeIntervalMinutes  int
	}
	Emissions struct {
		// FactorsKey is the object key of a JSON factor table in Storage.Bucket.
		// Empty keeps the built-in table.
		FactorsKey string
	}
	Storage struct {
		Bucket   string
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenTTLHours) * time.Hour
}

func (c Config) PurgeInterval() time.Duration {
	return time.Duration(c.Auth.PurgeIntervalMinutes) * time.Minute
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if strings.TrimSpace(c.Auth.SignInMessage) == "" {
		return fmt.Errorf("auth sign-in message must not be empty")
	}
	if c.Auth.AccessTokenTTLMinutes <= 0 || c.Auth.RefreshTokenTTLHours <= 0 {
		return fmt.Errorf("token ttls must be positive")
	}
	if c.Emissions.FactorsKey != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required when emissions factors key is set")
	}
	return nil
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// variables already in the environment win over .env
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("WALLETAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", "data/wallet-auth.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.signinmessage", "Sign in to the Carbon Exchange")
	v.SetDefault("auth.accesstokenttlminutes", 15)
	v.SetDefault("auth.refreshtokenttlhours", 24*7)
	v.SetDefault("auth.purgeintervalminutes", 60)
	v.SetDefault("emissions.factorskey", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
