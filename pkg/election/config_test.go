package election_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterkit/elector/pkg/election"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *election.Config
		wantErr error
	}{
		{
			name:    "missing connect string",
			config:  &election.Config{RootPath: "/election"},
			wantErr: election.ErrConnectStringRequired,
		},
		{
			name:    "missing root path",
			config:  &election.Config{ConnectString: "etcd-1:2379"},
			wantErr: election.ErrRootPathRequired,
		},
		{
			name: "valid minimal config",
			config: &election.Config{
				ConnectString: "etcd-1:2379",
				RootPath:      "/election",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestConfigValidate_NormalizesRootPath(t *testing.T) {
	config := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "election",
	}

	require.NoError(t, config.Validate())
	assert.Equal(t, "/election", config.RootPath)
}

func TestConfigValidate_GeneratesContenderID(t *testing.T) {
	config := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
	}

	require.NoError(t, config.Validate())
	require.NotEmpty(t, config.ContenderID)

	// Generated ids are "{hostname}/{uuid}".
	parts := strings.SplitN(config.ContenderID, "/", 2)
	require.Len(t, parts, 2)
	assert.NotEmpty(t, parts[0])
	assert.Len(t, parts[1], 36)

	// An explicit id survives validation untouched.
	explicit := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
		ContenderID:   "worker-7",
	}

	require.NoError(t, explicit.Validate())
	assert.Equal(t, "worker-7", explicit.ContenderID)
}

func TestConfigValidate_CapsMaxRetries(t *testing.T) {
	config := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
		MaxRetries:    100,
	}

	require.NoError(t, config.Validate())
	assert.Equal(t, election.MaxRetriesLimit, config.MaxRetries)

	negative := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
		MaxRetries:    -1,
	}

	require.Error(t, negative.Validate())
}

func TestConfigValidate_SelfHealsZeroValues(t *testing.T) {
	config := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
	}

	require.NoError(t, config.Validate())
	assert.Equal(t, 1000, config.BaseRetrySleepMs)
	assert.Equal(t, 15, config.SessionTTLSeconds)
	assert.Equal(t, 5*time.Second, config.DialTimeout)
}

func TestConfigTextEncoding(t *testing.T) {
	utf8 := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
	}

	require.NoError(t, utf8.Validate())

	decoded, err := utf8.DecodeValue([]byte("worker-1"))
	require.NoError(t, err)
	assert.Equal(t, "worker-1", decoded)

	latin1 := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
		TextEncoding:  "ISO-8859-1",
	}

	require.NoError(t, latin1.Validate())

	decoded, err = latin1.DecodeValue([]byte{0x77, 0x6f, 0x72, 0x6b, 0x65, 0x72, 0x2d, 0xe9})
	require.NoError(t, err)
	assert.Equal(t, "worker-é", decoded)

	unknown := &election.Config{
		ConnectString: "etcd-1:2379",
		RootPath:      "/election",
		TextEncoding:  "not-a-charset",
	}

	require.Error(t, unknown.Validate())
}

func TestConfigCoordinationConfig(t *testing.T) {
	config := &election.Config{
		ConnectString: "etcd-1:2379, etcd-2:2379,etcd-3:2379",
		RootPath:      "/election",
	}

	require.NoError(t, config.Validate())

	cc := config.CoordinationConfig()
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379", "etcd-3:2379"}, cc.Endpoints)
	assert.Equal(t, "/election", cc.ElectionPath)
	assert.Equal(t, time.Second, cc.BaseRetrySleep)
	assert.Equal(t, 15, cc.SessionTTL)
}
