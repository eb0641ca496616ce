package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ashureev/rallycoach/internal/app"
	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/store"
	"github.com/spf13/cobra"
)

func statsCMD() *cobra.Command {
	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show player, session and summary counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := app.OpenRepository(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			st, err := repo.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}
			return writeStats(cmd.OutOrStdout(), st, asJSON)
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return stats
}

func writeStats(out io.Writer, st *store.Stats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(out, "players:            %d\n", st.Players)
	fmt.Fprintf(out, "sessions:           %d\n", st.Sessions)
	fmt.Fprintf(out, "completed sessions: %d\n", st.CompletedSessions)
	fmt.Fprintf(out, "messages:           %d\n", st.Messages)
	fmt.Fprintf(out, "summaries:          %d\n", st.Summaries)
	levels := make([]string, 0, len(st.Levels))
	for l := range st.Levels {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	for _, l := range levels {
		fmt.Fprintf(out, "level %-13s %d\n", l+":", st.Levels[l])
	}
	return nil
}

func summariesCMD() *cobra.Command {
	var (
		email string
		limit int
	)
	summaries := &cobra.Command{
		Use:   "summaries",
		Short: "List a player's recent session summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			repo, err := app.OpenRepository(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			sums, err := repo.RecentSummaries(cmd.Context(), domain.NormalizeEmail(email), limit)
			if err != nil {
				return fmt.Errorf("load summaries: %w", err)
			}
			writeSummaries(cmd.OutOrStdout(), sums)
			return nil
		},
	}
	summaries.Flags().StringVar(&email, "email", "", "player email")
	summaries.Flags().IntVar(&limit, "limit", 5, "number of summaries")
	_ = summaries.MarkFlagRequired("email")
	return summaries
}

func writeSummaries(out io.Writer, sums []*domain.SessionSummary) {
	if len(sums) == 0 {
		fmt.Fprintln(out, "no summaries")
		return
	}
	for _, s := range sums {
		fmt.Fprintf(out, "#%d  %s\n", s.SessionNumber, s.CreatedAt.Format("2006-01-02"))
		fmt.Fprintf(out, "  Technical focus: %s\n", s.TechnicalFocus)
		fmt.Fprintf(out, "  Mental game:     %s\n", s.MentalGame)
		fmt.Fprintf(out, "  Homework:        %s\n", s.Homework)
		fmt.Fprintf(out, "  Next session:    %s\n", s.NextFocus)
		fmt.Fprintf(out, "  Breakthroughs:   %s\n", s.Breakthroughs)
		fmt.Fprintf(out, "  Summary:         %s\n", s.Narrative)
	}
}
