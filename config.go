// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the environment and database configuration and its
// loading from a config file and TXBTREE_* environment variables.

package txbtree

import (
	"reflect"
	"strings"
	"time"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvironmentConfig -- knobs of an environment.
// MaxMemory          -- cache ceiling in bytes (accepts "64MiB" in files).
// SharedCache        -- contribute to the process wide cache instead of a
//                       private one.
// CriticalPercent    -- percentage of MaxMemory above the budget at which
//                       eviction runs synchronously after cursor operations.
// MinTreeMemory      -- tree usage floor below which tree nodes are not evicted.
// NodeMaxEntries     -- max slots in a main tree node.
// DupNodeMaxEntries  -- max slots in a duplicate tree node.
// LockTables         -- number of lock table shards.
// LockTimeout        -- how long a blocking lock request waits.
// TxnNoWait          -- lockers default to no-wait mode.
// LogPolicy          -- pebble, arango_db_mgr or local_hashmap.
// LogDir             -- pebble directory; empty means an in-memory filesystem.
// EvictorPolicy      -- local_lru or local_hashmap.
type EnvironmentConfig struct {
	MaxMemory          int64         `mapstructure:"max_memory"`
	SharedCache        bool          `mapstructure:"shared_cache"`
	CriticalPercent    int           `mapstructure:"critical_percent"`
	MinTreeMemory      int64         `mapstructure:"min_tree_memory"`
	NodeMaxEntries     int           `mapstructure:"node_max_entries"`
	DupNodeMaxEntries  int           `mapstructure:"dup_node_max_entries"`
	LockTables         int           `mapstructure:"lock_tables"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	TxnNoWait          bool          `mapstructure:"txn_no_wait"`
	LogPolicy          string        `mapstructure:"log_policy"`
	LogDir             string        `mapstructure:"log_dir"`
	LogSync            bool          `mapstructure:"log_sync"`
	LogCacheBytes      int64         `mapstructure:"log_cache_bytes"`
	ArangoEndpoint     string        `mapstructure:"arango_endpoint"`
	ArangoDB           string        `mapstructure:"arango_db"`
	ArangoUser         string        `mapstructure:"arango_user"`
	ArangoPassword     string        `mapstructure:"arango_password"`
	ArangoCollection   string        `mapstructure:"arango_collection"`
	EvictorPolicy      string        `mapstructure:"evictor_policy"`
	EvictorBatchBytes  int64         `mapstructure:"evictor_batch_bytes"`
	EvictorInterval    time.Duration `mapstructure:"evictor_interval"`
	CompressorInterval time.Duration `mapstructure:"compressor_interval"`
	RunDaemons         bool          `mapstructure:"run_daemons"`
}

// DefaultEnvironmentConfig -- config with every knob at its default.
func DefaultEnvironmentConfig() EnvironmentConfig {
	return EnvironmentConfig{
		MaxMemory:          defaultMaxMemory,
		CriticalPercent:    defaultCriticalPercent,
		MinTreeMemory:      defaultMinTreeMemory,
		NodeMaxEntries:     defaultNodeMaxEntries,
		DupNodeMaxEntries:  defaultDupNodeMaxEntries,
		LockTables:         defaultLockTables,
		LockTimeout:        defaultLockTimeout,
		LogPolicy:          LogPolicyPebble,
		LogCacheBytes:      defaultLogCacheBytes,
		EvictorPolicy:      MemMgrPolicyLocalLRU,
		EvictorBatchBytes:  defaultEvictorBatchBytes,
		EvictorInterval:    defaultDaemonInterval,
		CompressorInterval: defaultDaemonInterval,
	}
}

// validate -- sanity check the parameters.
func (cfg *EnvironmentConfig) validate() error {
	if cfg.MaxMemory < MinMaxMemorySize {
		return errors.Wrapf(common.ErrInvalidParam,
			"max_memory is %d which is less than the minimum: %d",
			cfg.MaxMemory, MinMaxMemorySize)
	}
	if cfg.NodeMaxEntries < 4 || cfg.DupNodeMaxEntries < 4 {
		return errors.Wrapf(common.ErrInvalidParam,
			"node_max_entries (%d) and dup_node_max_entries (%d) must be at least 4",
			cfg.NodeMaxEntries, cfg.DupNodeMaxEntries)
	}
	if cfg.NodeMaxEntries > indexMask || cfg.DupNodeMaxEntries > indexMask {
		return errors.Wrapf(common.ErrInvalidParam,
			"node_max_entries (%d) and dup_node_max_entries (%d) must be below %d",
			cfg.NodeMaxEntries, cfg.DupNodeMaxEntries, indexMask+1)
	}
	if cfg.LockTables < 1 {
		return errors.Wrapf(common.ErrInvalidParam, "lock_tables is %d", cfg.LockTables)
	}
	if cfg.CriticalPercent < 0 || cfg.CriticalPercent > 100 {
		return errors.Wrapf(common.ErrInvalidParam,
			"critical_percent is %d", cfg.CriticalPercent)
	}
	switch cfg.LogPolicy {
	case LogPolicyPebble, LogPolicyADB, LogPolicyLocalMap:
	default:
		return errors.Wrapf(common.ErrInvalidParam, "log_policy %q", cfg.LogPolicy)
	}
	switch cfg.EvictorPolicy {
	case MemMgrPolicyLocalLRU, MemMgrPolicyLocalMap:
	default:
		return errors.Wrapf(common.ErrInvalidParam, "evictor_policy %q", cfg.EvictorPolicy)
	}
	return nil
}

// DatabaseConfig -- per database knobs.
// SortedDuplicates -- allow multiple data items per key, kept in a duplicate
//                     tree ordered by DuplicateComparator.
// KeyComparator    -- ordering of keys; byte-wise when nil.
type DatabaseConfig struct {
	AllowCreate         bool
	SortedDuplicates    bool
	KeyComparator       common.Comparator
	DuplicateComparator common.Comparator
}

// LoadEnvironmentConfig reads the config file at path (if not empty) and any
// TXBTREE_* environment variables on top of the defaults.
func LoadEnvironmentConfig(path string) (EnvironmentConfig, error) {
	v := viper.New()
	SetConfigDefaults(v)
	v.SetEnvPrefix("txbtree")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			glog.Errorf("failed to read config %s (err: %v)", path, err)
			return EnvironmentConfig{}, errors.Wrapf(err, "reading %s", path)
		}
	}
	return ConfigFromViper(v)
}

// SetConfigDefaults registers every knob with its default so that
// AutomaticEnv can resolve it.
func SetConfigDefaults(v *viper.Viper) {
	def := DefaultEnvironmentConfig()
	var m map[string]interface{}
	// Encoding a struct into a map can't fail.
	_ = mapstructure.Decode(def, &m)
	for k, val := range m {
		v.SetDefault(k, val)
	}
}

// ConfigFromViper decodes the settings held by v into an EnvironmentConfig.
func ConfigFromViper(v *viper.Viper) (EnvironmentConfig, error) {
	cfg := DefaultEnvironmentConfig()
	settings := make(map[string]interface{})
	for _, k := range v.AllKeys() {
		settings[k] = v.Get(k)
	}
	if err := Decode(settings, &cfg); err != nil {
		return EnvironmentConfig{}, errors.Wrap(err, "decoding environment config")
	}
	glog.V(1).Infof("loaded environment config: %+v", cfg)
	return cfg, cfg.validate()
}

// ByteSizeHookFunc handles decoding of a byte size field given as a string
// such as "64MiB" or "512 KB".
func ByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}
		if t == reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		n, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, err
		}
		return int64(n), nil
	}
}

// Decode converts a map to a struct by mapping key names to
// fields in the struct. It uses a mapstructure library to do the task.
func Decode(input interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: nil,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			ByteSizeHookFunc()),
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(input); err != nil {
		return err
	}
	return err
}
