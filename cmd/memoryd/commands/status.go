package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"git.home.luguber.info/inful/memoryd/internal/config"
	"git.home.luguber.info/inful/memoryd/internal/daemon"
	"git.home.luguber.info/inful/memoryd/internal/eventstore"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	History int `help:"Number of archived sessions to list when an archive is configured" default:"5"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	report := daemon.ReadStatus(storeFor(cfg), time.Now())
	_, _ = fmt.Fprintln(g.out(), report.String())

	printArchive(g.out(), cfg, s.History)
	return nil
}

// printArchive prints archived session totals when an archive exists. It
// never creates the archive and never fails the command.
func printArchive(w io.Writer, cfg *config.Config, limit int) {
	path := cfg.Archive.SQLitePath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		_, _ = fmt.Fprintf(w, "Archive unavailable: %v\n", err)
		return
	}
	defer func() { _ = store.Close() }()

	history := eventstore.NewSessionHistoryProjection(store, 50)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := history.Rebuild(ctx); err != nil {
		_, _ = fmt.Fprintf(w, "Archive unavailable: %v\n", err)
		return
	}

	sessions, backups, messages := history.Totals()
	_, _ = fmt.Fprintf(w, "Archive: %d sessions, %d backups, %d messages\n", sessions, backups, messages)
	for i, sum := range history.GetHistory() {
		if i >= limit {
			break
		}
		_, _ = fmt.Fprintf(w, "  %s  %-7s %s  backups=%d messages=%d\n",
			sum.StartedAt.Format(time.RFC3339), sum.Status, sum.SessionID, sum.Backups, sum.MessagesArchived)
	}
}
