package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	configDir string
	dbPath    string
	verbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaymesh",
		Short: "Federated relay resolution and query fan-out",
		Long: `Relaymesh resolves which relays hold an identity's records and retrieves
records by fanning queries out across them, merging the partial responses
into one deduplicated result.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "", "configuration directory (default ~/.relaymesh)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "use a sqlite store at this path instead of the file store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		relaysCmd(),
		queryCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relaymesh %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
