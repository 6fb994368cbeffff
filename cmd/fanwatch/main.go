//go:build linux

package main

import (
	"os"

	"github.com/Hara602/fanwatch/internal/sysutil"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:          "fanwatch",
		Short:        "Watch filesystem access through fanotify",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return sysutil.InitLogger(logLevel)
		},
		PersistentPostRun: func(c *cobra.Command, args []string) {
			_ = sysutil.Log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(watchCmd(), journalCmd(), errnoCmd())
	return root
}
