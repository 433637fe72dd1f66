package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var overrides config.Overrides

	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Speech-to-text transcription service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, overrides)
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	f.StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&overrides.ModelDir, "model-dir", "", "Directory holding ggml model weights")
	f.StringVar(&overrides.Device, "device", "", "Inference device (auto, cpu, cuda)")

	sf := rootCmd.Flags()
	addServeFlags(sf, &overrides)

	rootCmd.AddCommand(newServeCommand(&overrides))
	rootCmd.AddCommand(newModelsCommand(&overrides))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

// newLogger builds the process logger from the configured level.
func newLogger(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
}
