// Package cmd implements bundlectl, the operator-facing command line for
// the bundle runtime: it loads factory descriptors from a directory,
// installs them as bundles in a framework, and reports registry/component
// state. Grounded on _examples/giantswarm-muster/cmd/root.go's
// package-level rootCmd plus Execute()/SetVersion() entry points.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for bundlectl.
var rootCmd = &cobra.Command{
	Use:   "bundlectl",
	Short: "Install and run OSGi-style component bundles",
	Long: `bundlectl loads factory descriptors from a directory, installs each as
a bundle in an in-process framework, and reports the resulting registry and
component state.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "framework properties file (YAML, optional)")
}

// SetVersion sets the version string printed by --version.
func SetVersion(v string) { rootCmd.Version = v }

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
