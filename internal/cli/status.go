package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/requeue/internal/control"
	"github.com/vietddude/requeue/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show depth and parked counts of all configured queues",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	transport, err := control.OpenSharedTransport(ctx, *cfg)
	if err != nil {
		slog.Error("status requires a shared queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = transport.Close()
	}()

	// Parked counts are optional: without a database the column shows "-".
	var store *control.Store
	if cfg.Database.URL != "" {
		store, err = control.OpenSharedStore(ctx, *cfg)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = store.Close()
		}()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "QUEUE\tDEPTH\tPOISON\tPARKED")

	for _, name := range cfg.QueueNames() {
		depth, poison, parked := "-", "-", "-"
		if md, err := transport.GetQueueMetadata(ctx, name); err == nil {
			depth = fmt.Sprint(md.ApproximateMessageCount)
		}
		if md, err := transport.GetQueueMetadata(ctx, domain.PoisonQueueName(name)); err == nil {
			poison = fmt.Sprint(md.ApproximateMessageCount)
		}
		if store != nil {
			if n, err := store.Parked.Count(ctx, name); err == nil {
				parked = fmt.Sprint(n)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, depth, poison, parked)
	}
	_ = w.Flush()
}
