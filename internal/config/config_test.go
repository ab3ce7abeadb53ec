package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		envSyncConcurrency, envTrackingBaseURL, envDataDir, envLogLevel,
		envDiskCacheDir, envGmailClientID, envGmailSecret,
		envGraphClientID, envGraphSecret, envGraphTenantID,
	}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func(v string, old string, had bool) func() {
			return func() {
				if had {
					os.Setenv(v, old)
				} else {
					os.Unsetenv(v)
				}
			}
		}(v, old, had))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "./mailcore-data", c.DataDir)
	require.Equal(t, "info", c.LogLevel)
	require.Equal(t, "http://localhost:8080/t", c.TrackingBaseURL)
	require.Equal(t, c.DataDir+"/disk_cache", c.DiskCacheDir)
	require.GreaterOrEqual(t, c.SyncConcurrency, 2)
	require.Empty(t, c.GmailOAuthClientID)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	clearEnv(t)

	os.Setenv(envDataDir, "/var/mailcore")
	os.Setenv(envSyncConcurrency, "7")
	os.Setenv(envTrackingBaseURL, "https://mail.example.com/t")
	os.Setenv(envGmailClientID, "client-123")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/mailcore", c.DataDir)
	require.Equal(t, 7, c.SyncConcurrency)
	require.Equal(t, "https://mail.example.com/t", c.TrackingBaseURL)
	require.Equal(t, "client-123", c.GmailOAuthClientID)
	require.Equal(t, "/var/mailcore/disk_cache", c.DiskCacheDir)
}

func TestLoadIgnoresInvalidSyncConcurrency(t *testing.T) {
	clearEnv(t)
	os.Setenv(envSyncConcurrency, "not-a-number")

	c, err := Load()
	require.NoError(t, err)
	require.GreaterOrEqual(t, c.SyncConcurrency, 2)
}

func TestLoadIgnoresZeroOrNegativeSyncConcurrency(t *testing.T) {
	clearEnv(t)
	os.Setenv(envSyncConcurrency, "0")

	c, err := Load()
	require.NoError(t, err)
	require.GreaterOrEqual(t, c.SyncConcurrency, 2)
}

func TestLoadDiskCacheDirExplicitOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv(envDataDir, "/data")
	os.Setenv(envDiskCacheDir, "/blobs")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/blobs", c.DiskCacheDir)
}
