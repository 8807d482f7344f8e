package main

import (
	"fmt"
	"strings"

	"txbtree"
	"txbtree/common"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rootCmd = &cobra.Command{
		Use:   "txbtree",
		Short: "load and inspect a transactional B+Tree environment",
		Long: `txbtree opens an environment, loads a generated workload into a
database and then inspects it. The log holds no recovery information,
so every command works on the environment it loads itself.`,
		PersistentPreRunE: bindFlags,
		SilenceUsage:      true,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the resolved environment configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := environmentConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", cfg)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "environment config file (yaml, json or toml)")
	flags.String("db", "load", "name of the database to load")
	flags.Int("count", 10000, "number of keys to load")
	flags.Int("dups", 1, "data items per key; more than one makes a duplicate database")
	flags.String("key-type", "ordered-str", "rand-int, ordered-int, rand-str or ordered-str")
	flags.String("prefix", "k", "prefix of generated string keys")
	flags.Int("delete-every", 0, "delete every nth key after loading (0 for none)")
	flags.Int("workers", 4, "concurrent loaders")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dumpCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("txbtree")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func environmentConfig() (txbtree.EnvironmentConfig, error) {
	return txbtree.LoadEnvironmentConfig(viper.GetString("config"))
}

// workload -- the load described by the command line flags.
type workload struct {
	db          string
	count       int
	dups        int
	keyType     common.KeyType
	prefix      string
	deleteEvery int
	workers     int
}

func workloadFromFlags() (workload, error) {
	kt, err := common.ParseKeyType(viper.GetString("key-type"))
	if err != nil {
		return workload{}, err
	}
	w := workload{
		db:          viper.GetString("db"),
		count:       viper.GetInt("count"),
		dups:        max(viper.GetInt("dups"), 1),
		keyType:     kt,
		prefix:      viper.GetString("prefix"),
		deleteEvery: viper.GetInt("delete-every"),
		workers:     max(viper.GetInt("workers"), 1),
	}
	glog.V(1).Infof("workload: %+v", w)
	return w, nil
}
