package txbtree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultEnvironmentConfig()
	require.NoError(t, cfg.validate())
	require.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	require.Equal(t, LogPolicyPebble, cfg.LogPolicy)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(cfg *EnvironmentConfig){
		"small cache":      func(cfg *EnvironmentConfig) { cfg.MaxMemory = MinMaxMemorySize - 1 },
		"tiny nodes":       func(cfg *EnvironmentConfig) { cfg.NodeMaxEntries = 3 },
		"tiny dup nodes":   func(cfg *EnvironmentConfig) { cfg.DupNodeMaxEntries = 2 },
		"no lock tables":   func(cfg *EnvironmentConfig) { cfg.LockTables = 0 },
		"critical percent": func(cfg *EnvironmentConfig) { cfg.CriticalPercent = 101 },
		"log policy":       func(cfg *EnvironmentConfig) { cfg.LogPolicy = "tape" },
		"evictor policy":   func(cfg *EnvironmentConfig) { cfg.EvictorPolicy = "random" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultEnvironmentConfig()
			mutate(&cfg)
			err := cfg.validate()
			require.True(t, errors.Is(err, common.ErrInvalidParam), "%v", err)
			_, err = OpenEnvironment(cfg)
			require.Error(t, err)
		})
	}
}

func TestLoadEnvironmentConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txbtree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_memory: 64MiB
lock_timeout: 2s
log_policy: local_hashmap
log_cache_bytes: 1MB
lock_tables: 4
`), 0o644))
	t.Setenv("TXBTREE_NODE_MAX_ENTRIES", "32")

	cfg, err := LoadEnvironmentConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(64<<20), cfg.MaxMemory)
	require.Equal(t, 2*time.Second, cfg.LockTimeout)
	require.Equal(t, LogPolicyLocalMap, cfg.LogPolicy)
	require.Equal(t, int64(1000*1000), cfg.LogCacheBytes)
	require.Equal(t, 4, cfg.LockTables)
	require.Equal(t, 32, cfg.NodeMaxEntries)
	require.Equal(t, defaultDupNodeMaxEntries, cfg.DupNodeMaxEntries)

	env, err := OpenEnvironment(cfg)
	require.NoError(t, err)
	require.NoError(t, env.Close())
}

func TestLoadEnvironmentConfigErrors(t *testing.T) {
	_, err := LoadEnvironmentConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_memory: 1KiB\n"), 0o644))
	_, err = LoadEnvironmentConfig(path)
	require.True(t, errors.Is(err, common.ErrInvalidParam))

	cfg, err := LoadEnvironmentConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultEnvironmentConfig(), cfg)
}
