// Package config loads process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process-wide set of tunables. Every field has a
// documented default so the zero value of Config (before Load) is never
// used directly.
type Config struct {
	// DataDir holds the bolt databases and the disk artifact cache.
	DataDir string
	// LogLevel is a zerolog level name.
	LogLevel string
	// SyncConcurrency bounds the number of folders/accounts syncing at
	// once across the whole process.
	SyncConcurrency int
	// TrackingBaseURL is prefixed to click/open tracking links. No
	// trailing slash.
	TrackingBaseURL string
	// DiskCacheDir holds content-addressed message/attachment blobs.
	DiskCacheDir string
	// GmailOAuthClientID/Secret identify this deployment's registered
	// Google OAuth application, shared by every Gmail-backed account.
	GmailOAuthClientID     string
	GmailOAuthClientSecret string
	// GraphOAuthClientID/Secret/TenantID identify this deployment's
	// registered Microsoft Entra application, shared by every
	// Graph-backed account.
	GraphOAuthClientID     string
	GraphOAuthClientSecret string
	GraphOAuthTenantID     string
}

const (
	envSyncConcurrency = "MAILCORE_SYNC_CONCURRENCY"
	envTrackingBaseURL = "MAILCORE_TRACKING_BASE_URL"
	envDataDir         = "MAILCORE_DATA_DIR"
	envLogLevel        = "MAILCORE_LOG_LEVEL"
	envDiskCacheDir    = "MAILCORE_DISK_CACHE_DIR"
	envGmailClientID   = "MAILCORE_GMAIL_OAUTH_CLIENT_ID"
	envGmailSecret     = "MAILCORE_GMAIL_OAUTH_CLIENT_SECRET"
	envGraphClientID   = "MAILCORE_GRAPH_OAUTH_CLIENT_ID"
	envGraphSecret     = "MAILCORE_GRAPH_OAUTH_CLIENT_SECRET"
	envGraphTenantID   = "MAILCORE_GRAPH_OAUTH_TENANT_ID"
)

// Load reads configuration from the environment. If a .env file exists
// in the working directory it is loaded first; any error from
// godotenv.Load, including the one for a missing file, is ignored.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		DataDir:         getenv(envDataDir, "./mailcore-data"),
		LogLevel:        getenv(envLogLevel, "info"),
		TrackingBaseURL: getenv(envTrackingBaseURL, "http://localhost:8080/t"),
	}
	c.DiskCacheDir = getenv(envDiskCacheDir, c.DataDir+"/disk_cache")
	c.GmailOAuthClientID = os.Getenv(envGmailClientID)
	c.GmailOAuthClientSecret = os.Getenv(envGmailSecret)
	c.GraphOAuthClientID = os.Getenv(envGraphClientID)
	c.GraphOAuthClientSecret = os.Getenv(envGraphSecret)
	c.GraphOAuthTenantID = os.Getenv(envGraphTenantID)

	def := 2 * runtime.NumCPU()
	if def < 2 {
		def = 2
	}
	if v := os.Getenv(envSyncConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			def = n
		}
	}
	c.SyncConcurrency = def
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
