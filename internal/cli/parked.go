package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/requeue/internal/control"
)

var (
	parkedQueue string
	parkedLimit int
)

var parkedCmd = &cobra.Command{
	Use:   "parked",
	Short: "List messages parked after permanent failures",
	Run:   runParked,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a parked message as resolved",
	Args:  cobra.ExactArgs(1),
	Run:   runResolve,
}

func init() {
	parkedCmd.Flags().StringVar(&parkedQueue, "queue", "", "queue to list")
	parkedCmd.Flags().IntVar(&parkedLimit, "limit", 50, "maximum rows")
	_ = parkedCmd.MarkFlagRequired("queue")
	parkedCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(parkedCmd)
}

func openStore(ctx context.Context) *control.Store {
	cfg := loadConfig()
	store, err := control.OpenSharedStore(ctx, *cfg)
	if err != nil {
		slog.Error("parked requires a shared store", "error", err)
		os.Exit(1)
	}
	return store
}

func runParked(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	msgs, err := store.Parked.GetAll(ctx, parkedQueue, parkedLimit)
	if err != nil {
		slog.Error("Failed to list parked messages", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tMESSAGE\tDELIVERIES\tPARKED\tERROR")
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.MessageID, m.DeliveryCount, m.ParkedAt.Format(time.RFC3339), m.Error)
	}
	_ = w.Flush()
}

func runResolve(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	if err := store.Parked.MarkResolved(ctx, args[0]); err != nil {
		slog.Error("Failed to resolve parked message", "id", args[0], "error", err)
		os.Exit(1)
	}
	slog.Info("Parked message resolved", "id", args[0])
}
