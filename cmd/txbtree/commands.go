package main

import (
	"fmt"
	"os"
	"sync"

	"txbtree"
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Load the workload and print the database stats",
		RunE: withLoadedDatabase(func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error {
			st, err := db.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		}),
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Load the workload and print every record",
		RunE: withLoadedDatabase(func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error {
			c, err := db.OpenCursor(nil, nil)
			if err != nil {
				return err
			}
			defer c.Close()
			key, data := &txbtree.DatabaseEntry{}, &txbtree.DatabaseEntry{}
			st, err := c.GetFirst(key, data, txbtree.LockDefault)
			for err == nil && st == txbtree.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "%q\t%q\n", key.Data, data.Data)
				st, err = c.GetNext(key, data, txbtree.LockDefault)
			}
			return err
		}),
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Load the workload and verify the database",
		RunE: withLoadedDatabase(func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error {
			res, err := db.Verify()
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", res)
			return err
		}),
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Load the workload, compress and evict, then print the environment stats and metrics",
		RunE: withLoadedDatabase(func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error {
			if err := env.Compress(); err != nil {
				return err
			}
			if _, err := env.EvictMemory(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Stats())
			env.WriteMetrics(cmd.OutOrStdout())
			return nil
		}),
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Load the workload and dump the tree",
		RunE: withLoadedDatabase(func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error {
			layout, _ := cmd.Flags().GetBool("layout")
			return db.WriteTree(cmd.OutOrStdout(), layout)
		}),
	}
)

func init() {
	dumpCmd.Flags().Bool("layout", false, "print the internal nodes before the leaves")
}

type databaseFunc func(cmd *cobra.Command, env *txbtree.Environment, db *txbtree.Database) error

// withLoadedDatabase -- open an environment, run the workload and hand the
// database to f.
func withLoadedDatabase(f databaseFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := environmentConfig()
		if err != nil {
			return err
		}
		w, err := workloadFromFlags()
		if err != nil {
			return err
		}
		env, err := txbtree.OpenEnvironment(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := env.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "closing environment: %v\n", err)
			}
		}()
		db, err := env.OpenDatabase(w.db, txbtree.DatabaseConfig{
			AllowCreate:      true,
			SortedDuplicates: w.dups > 1,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := load(db, w); err != nil {
			return err
		}
		return f(cmd, env, db)
	}
}

// load -- spread the workload over the workers; each key gets w.dups data
// items, and every w.deleteEvery'th key is deleted again.
func load(db *txbtree.Database, w workload) error {
	var wg sync.WaitGroup
	errs := make([]error, w.workers)
	per := (w.count + w.workers - 1) / w.workers
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := worker * per; n < min((worker+1)*per, w.count); n++ {
				key := &txbtree.DatabaseEntry{Data: common.Generate(w.keyType, w.prefix)}
				for d := 0; d < w.dups; d++ {
					data := &txbtree.DatabaseEntry{Data: []byte(fmt.Sprintf("data_%03d", d))}
					if _, err := db.Put(nil, key, data); err != nil {
						errs[worker] = errors.Wrapf(err, "put %q", key.Data)
						return
					}
				}
				if w.deleteEvery > 0 && n%w.deleteEvery == 0 {
					if _, err := db.Delete(nil, key); err != nil {
						errs[worker] = errors.Wrapf(err, "delete %q", key.Data)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()
	glog.Infof("loaded %d keys into %s", w.count, db.Name())
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
