package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/cipherdrive/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m string   metrics bind address
//	-w int      concurrent upload slots
//	-f int      download prefetch window, chunks
//	-l int      per-user storage limit, MiB
//	-t int      abandoned upload TTL, hours
//	-r int      reaper interval, minutes
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-p", "-b", "-g", "-e", "-m", "-w", "-f", "-l", "-t", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics bind address")

	fs.Int64Var(&config.UploadSlots, "w", config.UploadSlots, "concurrent upload slots")
	fs.IntVar(&config.DownloadPrefetch, "f", config.DownloadPrefetch, "download prefetch window (chunks)")

	storageLimitMiB := fs.Int64("l", config.StorageLimitBytes>>20, "per-user storage limit (in MiB)")
	uploadAbandonTTL := fs.Int("t", int(config.UploadAbandonTTL.Hours()), "abandoned upload TTL (in hours)")
	reaperInterval := fs.Int("r", int(config.ReaperInterval.Minutes()), "reaper interval (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.StorageLimitBytes = *storageLimitMiB << 20
	config.UploadAbandonTTL = time.Duration(*uploadAbandonTTL) * time.Hour
	config.ReaperInterval = time.Duration(*reaperInterval) * time.Minute
}
