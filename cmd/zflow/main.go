package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zflow-io/zflow/internal/buildinfo"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

var (
	verbosity int
	logger    logr.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zflow",
	Short: "Incremental dataflow over weighted delta streams",
	Long: `zflow compiles a declarative YAML plan into a dataflow circuit and
maintains its outputs incrementally as weighted delta batches arrive.`,
	Version: buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}.String(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(verbosity)
	},
	SilenceUsage: true,
}

func newLogger(verbosity int) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	z, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(z).WithName("zflow")
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"log verbosity, higher is chattier")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
