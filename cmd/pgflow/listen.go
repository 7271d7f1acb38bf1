package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riftdata/pgflow"
)

var listenCmd = &cobra.Command{
	Use:   "listen <channel> [channel...]",
	Short: "Print NOTIFY payloads as they arrive",
	Long: `Issue LISTEN for one or more channels and print each notification
as it arrives, until interrupted. Notifications are delivered out of
band (never in response to a query this command ran), so they can show
up between or during any other command running on the same
connection.`,
	Example: `  pgflow listen events
  pgflow listen events audit_log`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := pgflow.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	received := make(chan pgflow.Notification, 16)
	client.SetNotificationSink(pgflow.NotificationFunc(func(n pgflow.Notification) {
		received <- n
	}))

	for _, channel := range args {
		stream, err := client.Query(ctx, fmt.Sprintf("LISTEN %s", quoteIdent(channel)))
		if err != nil {
			return fmt.Errorf("listening on %s: %w", channel, err)
		}
		if _, err := stream.All(ctx); err != nil {
			return fmt.Errorf("listening on %s: %w", channel, err)
		}
		out.Info(fmt.Sprintf("listening on %q", channel))
	}

	for {
		select {
		case n := <-received:
			out.Printf("[%s] pid=%d: %s", n.Channel, n.PID, n.Payload)
		case <-ctx.Done():
			return nil
		case <-client.Closed():
			return fmt.Errorf("connection closed")
		}
	}
}

// quoteIdent double-quotes channel for use in LISTEN, which doesn't
// accept bind parameters (it's DDL-like, not a parameterizable DML
// statement).
func quoteIdent(s string) string {
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			buf = append(buf, '"')
		}
		buf = append(buf, s[i])
	}
	buf = append(buf, '"')
	return string(buf)
}
