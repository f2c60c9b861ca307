package server_test

import (
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/clusterkit/elector/pkg/server"
)

func loadConfig(t *testing.T, raw string) *server.Config {
	t.Helper()

	config := &server.Config{}
	require.NoError(t, defaults.Set(config))

	type plain server.Config

	require.NoError(t, yaml.Unmarshal([]byte(raw), (*plain)(config)))

	return config
}

func TestConfigValidate_AppliesDefaults(t *testing.T) {
	config := loadConfig(t, `
election:
  connectString: etcd-1:2379
`)

	require.NoError(t, config.Validate())

	assert.Equal(t, ":9090", config.MetricsAddr)
	assert.Equal(t, ":8080", config.APIAddr)
	assert.Equal(t, "info", config.LoggingLevel)
	assert.Equal(t, 10*time.Second, config.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, config.Duty.HeartbeatInterval)

	// Defaults reach into the election section even though it is only
	// created during unmarshal.
	require.NotNil(t, config.Election)
	assert.Equal(t, "/election", config.Election.RootPath)
	assert.Equal(t, 1000, config.Election.BaseRetrySleepMs)
	assert.NotEmpty(t, config.Election.ContenderID)
}

func TestConfigValidate_RequiresElection(t *testing.T) {
	config := loadConfig(t, `
metricsAddr: ":9191"
`)

	require.Error(t, config.Validate())
}

func TestConfigValidate_ExplicitValuesWin(t *testing.T) {
	config := loadConfig(t, `
apiAddr: ":8888"
logging: debug
election:
  connectString: etcd-1:2379,etcd-2:2379
  rootPath: /my-election
  contenderId: worker-1
  maxRetries: 5
`)

	require.NoError(t, config.Validate())

	assert.Equal(t, ":8888", config.APIAddr)
	assert.Equal(t, "debug", config.LoggingLevel)
	assert.Equal(t, "/my-election", config.Election.RootPath)
	assert.Equal(t, "worker-1", config.Election.ContenderID)
	assert.Equal(t, 5, config.Election.MaxRetries)
}
