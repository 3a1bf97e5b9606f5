package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rdscope/rdscope-go/internal/config"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	err := rootCmd.Execute()
	logging.Close()
	if err != nil {
		var rdErr *rderrors.Error
		if verbose && errors.As(err, &rdErr) {
			fmt.Fprint(os.Stderr, rdErr.DetailedString())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if rderrors.GetType(err) == rderrors.ErrorTypeConfig {
			fmt.Fprintln(os.Stderr, "Run 'rdscope configure' to review settings.")
		}
		if rderrors.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rdscope",
	Short: "RDScope - R&D tax relief evidence from your commit history",
	Long: `RDScope analyzes a repository's change history against the HMRC R&D
relief criteria, classifying commits and pull requests into evidence-backed
qualifying activities.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
		if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
			logger.WithError(err).Warn("Failed to initialize structured logging")
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .rdscope/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`RDScope {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(criteriaCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configureCmd)
}
