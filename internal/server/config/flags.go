package config

import (
	"flag"

	"github.com/dmitrijs2005/gophsync/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-u", "-p", "-b", "-g", "-e", "-s", "-l", "-r",
	"-n", "-x", "-i", "-w", "-k", "-v", "-f", "-o",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-s string     storage backend: s3 | memory
//	-l string     lock backend: db | redis
//	-r string     redis address
//	-n string     uploader lock name
//	-x duration   lock expiry (e.g., "60s")
//	-i duration   uploader interval
//	-w int        uploader concurrency
//	-k duration   completed work retention
//	-v string     log level
//	-f string     log format: json | zap
//	-o string     log file (rotated); stdout when empty
//
// Only the flags above are looked at, see flagx.FilterArgs. Parse errors panic.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run ops server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.StorageBackend, "s", config.StorageBackend, "storage backend (s3|memory)")
	fs.StringVar(&config.LockBackend, "l", config.LockBackend, "lock backend (db|redis)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.LockName, "n", config.LockName, "uploader lock name")
	fs.DurationVar(&config.LockExpiry, "x", config.LockExpiry, "lock expiry")
	fs.DurationVar(&config.UploaderInterval, "i", config.UploaderInterval, "uploader interval")
	fs.IntVar(&config.UploaderConcurrency, "w", config.UploaderConcurrency, "uploader concurrency")
	fs.DurationVar(&config.CompletedRetention, "k", config.CompletedRetention, "completed work retention")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json|zap)")
	fs.StringVar(&config.LogFile, "o", config.LogFile, "log file")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		panic(err)
	}
}
