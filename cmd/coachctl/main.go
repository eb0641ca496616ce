// coachctl is the operator CLI for the coaching controller.
package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/rallycoach/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "coachctl",
		Short:         "Operate the Rally Coach controller",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
			_ = godotenv.Load()
		},
	}

	root.AddCommand(chatCMD(), statsCMD(), summariesCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the same environment the server uses.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
