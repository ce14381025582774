package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/requeue/internal/control"
	"github.com/vietddude/requeue/internal/infra/queue"
)

var (
	sendQueue string
	sendBody  string
	sendDelay time.Duration
	sendTTL   time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Enqueue a message (body from --body or stdin)",
	Run:   runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendQueue, "queue", "", "target queue")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "message body; read from stdin when empty")
	sendCmd.Flags().DurationVar(&sendDelay, "delay", 0, "initial invisibility")
	sendCmd.Flags().DurationVar(&sendTTL, "ttl", 0, "message lifetime; queue message_ttl when zero")
	_ = sendCmd.MarkFlagRequired("queue")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	body := []byte(sendBody)
	if sendBody == "" {
		var err error
		body, err = io.ReadAll(os.Stdin)
		if err != nil {
			slog.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
	}

	ttl := sendTTL
	if ttl == 0 {
		for _, q := range cfg.Queues {
			if q.Name == sendQueue {
				ttl = q.MessageTTL
			}
		}
	}

	transport, err := control.OpenSharedTransport(ctx, *cfg)
	if err != nil {
		slog.Error("send requires a shared queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = transport.Close()
	}()

	id, err := transport.Send(ctx, sendQueue, body, queue.SendOptions{Delay: sendDelay, TTL: ttl})
	if err != nil {
		slog.Error("Failed to send message", "queue", sendQueue, "error", err)
		os.Exit(1)
	}
	fmt.Println(id)
}
