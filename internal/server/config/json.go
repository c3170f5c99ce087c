package config

import (
	"encoding/json"
	"os"

	"github.com/ken-lyk/qrkeeper/internal/flagx"
	"github.com/ken-lyk/qrkeeper/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations accept "15m" style
// strings or integer nanoseconds. Absent keys leave the current value alone.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	BcryptCost                  int            `json:"bcrypt_cost"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	RedisAddr                   string         `json:"redis_addr"`
	UserCacheTTL                timex.Duration `json:"user_cache_ttl"`
	LogFormat                   string         `json:"log_format"`
	LogLevel                    string         `json:"log_level"`
	RequestTimeout              timex.Duration `json:"request_timeout"`
	RateLimitPerMinute          int            `json:"rate_limit_per_minute"`
	MaxUploadSize               int64          `json:"max_upload_size"`
	EnforceEnabledPerRequest    *bool          `json:"enforce_enabled_per_request"`
	AdminName                   string         `json:"admin_name"`
	AdminEmail                  string         `json:"admin_email"`
	AdminPassword               string         `json:"admin_password"`
}

// parseJson loads the file named by -c/-config, if any, into config.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration.Duration)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.RedisAddr, c.RedisAddr)
	setDuration(&config.UserCacheTTL, c.UserCacheTTL.Duration)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.RequestTimeout, c.RequestTimeout.Duration)
	setInt(&config.RateLimitPerMinute, c.RateLimitPerMinute)
	setInt64(&config.MaxUploadSize, c.MaxUploadSize)
	setBool(&config.EnforceEnabledPerRequest, c.EnforceEnabledPerRequest)
	setString(&config.AdminName, c.AdminName)
	setString(&config.AdminEmail, c.AdminEmail)
	setString(&config.AdminPassword, c.AdminPassword)
}
