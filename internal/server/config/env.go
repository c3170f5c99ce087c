package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every variable, e.g. QRKEEPER_DATABASE_DSN.
const envPrefix = "QRKEEPER"

// EnvConfig mirrors Config for environment variables. Unset variables
// leave the current value alone.
type EnvConfig struct {
	EndpointAddrHTTP            string        `envconfig:"HTTP_ADDR"`
	DatabaseDSN                 string        `envconfig:"DATABASE_DSN"`
	SecretKey                   string        `envconfig:"SECRET_KEY"`
	AccessTokenValidityDuration time.Duration `envconfig:"ACCESS_TOKEN_TTL"`
	BcryptCost                  int           `envconfig:"BCRYPT_COST"`
	S3RootUser                  string        `envconfig:"S3_ROOT_USER"`
	S3RootPassword              string        `envconfig:"S3_ROOT_PASSWORD"`
	S3Bucket                    string        `envconfig:"S3_BUCKET"`
	S3Region                    string        `envconfig:"S3_REGION"`
	S3BaseEndpoint              string        `envconfig:"S3_BASE_ENDPOINT"`
	RedisAddr                   string        `envconfig:"REDIS_ADDR"`
	UserCacheTTL                time.Duration `envconfig:"USER_CACHE_TTL"`
	LogFormat                   string        `envconfig:"LOG_FORMAT"`
	LogLevel                    string        `envconfig:"LOG_LEVEL"`
	RequestTimeout              time.Duration `envconfig:"REQUEST_TIMEOUT"`
	RateLimitPerMinute          int           `envconfig:"RATE_LIMIT_PER_MINUTE"`
	MaxUploadSize               int64         `envconfig:"MAX_UPLOAD_SIZE"`
	EnforceEnabledPerRequest    *bool         `envconfig:"ENFORCE_ENABLED_PER_REQUEST"`
	AdminName                   string        `envconfig:"ADMIN_NAME"`
	AdminEmail                  string        `envconfig:"ADMIN_EMAIL"`
	AdminPassword               string        `envconfig:"ADMIN_PASSWORD"`
}

// parseEnv overlays QRKEEPER_* variables onto config. A malformed value
// (e.g. a non-numeric BCRYPT_COST) panics.
func parseEnv(config *Config) {
	c := &EnvConfig{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.RedisAddr, c.RedisAddr)
	setDuration(&config.UserCacheTTL, c.UserCacheTTL)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.RequestTimeout, c.RequestTimeout)
	setInt(&config.RateLimitPerMinute, c.RateLimitPerMinute)
	setInt64(&config.MaxUploadSize, c.MaxUploadSize)
	setBool(&config.EnforceEnabledPerRequest, c.EnforceEnabledPerRequest)
	setString(&config.AdminName, c.AdminName)
	setString(&config.AdminEmail, c.AdminEmail)
	setString(&config.AdminPassword, c.AdminPassword)
}
