// rmctl is the command line client for a running rmcored broker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rmcore"
)

var (
	brokerURI string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rmctl",
	Short: "Control a running rmcored broker",
	Long: `rmctl talks to the broker's RPC interface: inspect and edit the
key-value store, manage jobs, write checkpoints and watch the event stream.`,
	SilenceUsage: true,
}

// newHandle builds the client. The connection happens lazily on the first
// RPC, so commands that fail argument validation never dial.
func newHandle() *rmcore.Handle {
	return rmcore.New(
		rmcore.WithURI(brokerURI),
		rmcore.WithTimeout(timeout),
	)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var pingCmd = &cobra.Command{
	Use:   "ping [payload]",
	Short: "Check broker liveness",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := ""
		if len(args) == 1 {
			payload = args[0]
		}

		h := newHandle()
		defer h.Close()

		start := time.Now()
		pong, err := h.Ping(context.Background(), payload)
		if err != nil {
			return err
		}
		fmt.Printf("pong seq=%d time=%s\n", pong.Seq, time.Since(start).Round(time.Microsecond))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show broker version and state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		hello, err := h.Hello(context.Background())
		if err != nil {
			return err
		}
		return printJSON(hello)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show broker counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		stats, err := h.Stats(context.Background())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&brokerURI, "uri", rmcore.DefaultURI, "broker address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", rmcore.DefaultTimeout, "RPC timeout")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(kvsCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
