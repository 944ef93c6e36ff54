// Package commands implements the fepd CLI. The core packages expose no
// CLI of their own; fepd is the host binary that wires config, metrics,
// logging, storage and the connection manager together.
package commands

import "github.com/spf13/cobra"

var (
	// Version is injected at build time via -ldflags.
	Version = "dev"

	cfgFile  string
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "fepd",
	Short: "fepd - Financial Electronic Payment front-end processor",
	Long: `fepd embeds the FEP core: a dual-channel ISO-8583-style gateway
that terminates bank-card network traffic, correlates asynchronous
responses by STAN, and runs transactions through the
dedup/validate/route/process/audit pipeline.

This binary only wires configuration, metrics and logging around the
core; the core itself has no CLI surface of its own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "channel configuration document (yaml/json/toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level: CRITICAL, ERROR, WARNING, NOTICE, INFO, DEBUG")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "additional log file (stderr is always logged to)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print fepd's version and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("fepd " + Version)
		return nil
	},
}
