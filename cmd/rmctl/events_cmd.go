package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [pattern]",
	Short: "Stream broker events until interrupted",
	Long: `Streams events whose topic matches the pattern: an exact topic or any
topic below it on a dot boundary. With no pattern, all events are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}

		h := newHandle()
		defer h.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ch, err := h.Subscribe(ctx, pattern)
		if err != nil {
			return err
		}

		for ev := range ch {
			fmt.Printf("%d %s %s %s\n",
				ev.Seq, ev.Time.Format("15:04:05.000"), ev.Topic, string(ev.Payload))
		}
		return nil
	},
}
