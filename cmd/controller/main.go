package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/opst/testpod-controller/pkg/utils/args"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
)

var (
	logLevel = args.Parser(logrus.ParseLevel, logrus.InfoLevel).Typed("level")
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("controller has stopped")
	}
}

var rootCmd = &cobra.Command{
	Use:   "testpod-controller",
	Short: "Launches and reaps engine pods for queued test runs",
	Long: `testpod-controller watches runs in the coordination store,
launches an engine pod on Kubernetes for each queued run,
and settles runs which are interrupted or have lost their heartbeat.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetLevel(logLevel.Value())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("testpod-controller %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
	},
}

func init() {
	rootCmd.PersistentFlags().Var(logLevel, "log-level",
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}
