package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/whisper"
	"github.com/spf13/cobra"
)

func newModelsCommand(overrides *config.Overrides) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and download ggml model weights",
	}

	modelsCmd.AddCommand(newModelsListCommand(overrides))
	modelsCmd.AddCommand(newModelsPullCommand(overrides))

	return modelsCmd
}

func modelLoader(overrides config.Overrides) (*whisper.FileLoader, error) {
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel).With().Str("component", "models").Logger()
	return &whisper.FileLoader{Dir: cfg.ModelDir, Log: log}, nil
}

func newModelsListCommand(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List model sizes and whether their weights are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := modelLoader(*overrides)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIZE\tINSTALLED\tPATH")
			for _, size := range whisper.Sizes {
				path, _, err := loader.ModelPath(size)
				if err != nil {
					return err
				}
				installed := "no"
				if loader.Installed(size) {
					installed = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", size, installed, path)
			}
			return tw.Flush()
		},
	}
}

func newModelsPullCommand(overrides *config.Overrides) *cobra.Command {
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "pull <size>...",
		Short: "Download and verify model weights",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := modelLoader(*overrides)
			if err != nil {
				return err
			}
			// Validate every size before downloading anything
			sizes := make([]whisper.Size, 0, len(args))
			for _, arg := range args {
				size, err := whisper.ParseSize(arg, "")
				if err != nil {
					return err
				}
				sizes = append(sizes, size)
			}

			for _, size := range sizes {
				path, err := loader.Pull(cmd.Context(), size, !noProgress)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", size, path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the download progress bar")
	return cmd
}
