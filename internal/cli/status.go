package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored trial and session counts",
	Long:  `Inspect the trial store and print counts, the latest sequence number, and session history.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Database.Path); os.IsNotExist(err) {
		fmt.Println("No trial store found. Run 'regstream start' first.")
		return nil
	}

	st, err := store.Open(cfg.Database.Path, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	trials, err := st.CountTrials()
	if err != nil {
		return err
	}
	lastSeq, err := st.MaxSequence()
	if err != nil {
		return err
	}
	sessions, err := st.Sessions()
	if err != nil {
		return err
	}
	periods, err := st.Periods()
	if err != nil {
		return err
	}

	fmt.Printf("Store: %s\n", cfg.Database.Path)
	fmt.Printf("Trials: %d (last sequence %d)\n", trials, lastSeq)
	fmt.Printf("Sessions: %d\n", len(sessions))
	fmt.Printf("Intention periods: %d\n", len(periods))

	for _, s := range sessions {
		line := fmt.Sprintf("  %s  %-9s intention=%-8s started %s",
			s.ID, s.Status, s.Intention, s.StartTime.Format(time.RFC3339))
		if s.EndTime != nil {
			line += fmt.Sprintf("  duration %s", formatDuration(s.EndTime.Sub(s.StartTime)))
		}
		fmt.Println(line)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
