package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/flagx"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// strings such as "30s" and integer nanoseconds, see timex.Duration.
// Absent fields keep the value already present in Config.
type JsonConfig struct {
	EndpointAddrGRPC    *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN         *string         `json:"database_dsn"`
	S3RootUser          *string         `json:"s3_root_user"`
	S3RootPassword      *string         `json:"s3_root_password"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Region            *string         `json:"s3_region"`
	S3BaseEndpoint      *string         `json:"s3_base_endpoint"`
	StorageBackend      *string         `json:"storage_backend"`
	LockBackend         *string         `json:"lock_backend"`
	RedisAddr           *string         `json:"redis_addr"`
	LockName            *string         `json:"lock_name"`
	LockExpiry          *timex.Duration `json:"lock_expiry"`
	UploaderInterval    *timex.Duration `json:"uploader_interval"`
	UploaderConcurrency *int            `json:"uploader_concurrency"`
	CompletedRetention  *timex.Duration `json:"completed_retention"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
	LogFile             *string         `json:"log_file"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag into config. Nothing happens when neither flag is given.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.ConfigFilePath(args)

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.LockBackend, c.LockBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.LockName, c.LockName)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogFile, c.LogFile)

	if c.LockExpiry != nil {
		config.LockExpiry = c.LockExpiry.Duration
	}
	if c.UploaderInterval != nil {
		config.UploaderInterval = c.UploaderInterval.Duration
	}
	if c.CompletedRetention != nil {
		config.CompletedRetention = c.CompletedRetention.Duration
	}
	if c.UploaderConcurrency != nil {
		config.UploaderConcurrency = *c.UploaderConcurrency
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
