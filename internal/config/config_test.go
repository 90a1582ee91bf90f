package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultsViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(defaultsViper())
	require.NoError(t, err)

	assert.Equal(t, "./backups", cfg.StagingDir)
	assert.Equal(t, "./data/backups.db", cfg.LedgerPath)
	assert.Equal(t, "alpine:3.20", cfg.HelperImage)
	assert.Equal(t, 120, cfg.HelperTimeoutSeconds)
	assert.Equal(t, 20, cfg.DiscoveryTimeoutSeconds)
	assert.Equal(t, 100, cfg.MaxNamespaceScan)
	assert.Equal(t, 1, cfg.StartupRetries)
	assert.Equal(t, DestinationLocal, cfg.DestinationMode)
}

func TestValidateRejectsNonPositiveValues(t *testing.T) {
	cases := map[string]any{
		"helper_timeout_seconds":    0,
		"discovery_timeout_seconds": -1,
		"max_namespace_scan":        0,
		"startup_retries":           -1,
	}
	for key, value := range cases {
		v := defaultsViper()
		v.Set(key, value)
		_, err := Load(v)
		assert.ErrorContains(t, err, key, "key %s", key)
	}
}

func TestValidateRejectsEmptyPaths(t *testing.T) {
	for _, key := range []string{"staging_dir", "ledger_path", "helper_image"} {
		v := defaultsViper()
		v.Set(key, "")
		_, err := Load(v)
		assert.ErrorContains(t, err, key, "key %s", key)
	}
}

func TestValidateNormalizesDestinationMode(t *testing.T) {
	v := defaultsViper()
	v.Set("destination_mode", "  Local ")
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, DestinationLocal, cfg.DestinationMode)

	v = defaultsViper()
	v.Set("destination_mode", "tape")
	_, err = Load(v)
	assert.ErrorContains(t, err, "destination_mode")
}

func TestValidateRemoteRequiresEndpointFields(t *testing.T) {
	remoteViper := func() *viper.Viper {
		v := defaultsViper()
		v.Set("destination_mode", DestinationRemote)
		v.Set("remote.protocol", "ftp")
		v.Set("remote.host", "backups.example.com")
		v.Set("remote.username", "backup")
		v.Set("remote.password", "secret")
		v.Set("remote.directory", "/archives")
		return v
	}

	cfg, err := Load(remoteViper())
	require.NoError(t, err)
	assert.Equal(t, "ftp", cfg.Remote.Protocol)

	for _, key := range []string{"remote.protocol", "remote.host", "remote.username", "remote.password"} {
		v := remoteViper()
		v.Set(key, "")
		_, err := Load(v)
		assert.ErrorContains(t, err, key, "key %s", key)
	}

	v := remoteViper()
	v.Set("remote.port", -1)
	_, err = Load(v)
	assert.ErrorContains(t, err, "remote.port")
}
