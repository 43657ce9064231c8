package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestFromViper_EmptyConfigAppliesDefaults(t *testing.T) {
	resetViper()
	defer resetViper()

	err := FromViper()
	require.NoError(t, err)
	assert.Equal(t, ":8080", AppConfig.Server.Addr)
	assert.Equal(t, 1, AppConfig.Downloader.LookAhead)
	assert.EqualValues(t, 2, AppConfig.Downloader.MaxConcurrent)
	assert.Equal(t, 100, AppConfig.Player.DefaultVolume)
}

func TestFromViper_ExplicitValuesSurvive(t *testing.T) {
	resetViper()
	defer resetViper()

	viper.Set("server.addr", ":9999")
	viper.Set("queue.database_path", "/tmp/explicit.db")

	err := FromViper()
	require.NoError(t, err)
	assert.Equal(t, ":9999", AppConfig.Server.Addr)
	assert.Equal(t, "/tmp/explicit.db", AppConfig.Queue.DatabasePath)
}
