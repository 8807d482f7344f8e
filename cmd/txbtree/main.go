package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	// glog registers its flags on the standard flag set; cobra owns the
	// command line, so glog is configured from its defaults.
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
