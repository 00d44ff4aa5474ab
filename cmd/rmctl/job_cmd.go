package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rmcore"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and manage jobs",
}

var (
	submitName     string
	submitPriority int
	submitDuration time.Duration
)

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		info, err := h.Jobs().Submit(context.Background(), rmcore.JobSpec{
			Name:     submitName,
			Priority: submitPriority,
			Duration: submitDuration,
		})
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		list, err := h.Jobs().List(context.Background())
		if err != nil {
			return err
		}
		for _, info := range list {
			fmt.Printf("%s  %-9s prio=%-4d %s\n",
				info.ID, info.State, info.Priority, info.Name)
		}
		return nil
	},
}

var jobInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show a job's state and eventlog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		info, eventlog, err := h.Jobs().Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if err := printJSON(info); err != nil {
			return err
		}
		for _, entry := range eventlog {
			line := fmt.Sprintf("%.6f %s", entry.Timestamp, entry.Name)
			for k, v := range entry.Context {
				line += fmt.Sprintf(" %s=%v", k, v)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var cancelReason string

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		return h.Jobs().Cancel(context.Background(), args[0], cancelReason)
	},
}

var finishStatus int

var jobFinishCmd = &cobra.Command{
	Use:   "finish <id>",
	Short: "Mark a running job complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		return h.Jobs().Finish(context.Background(), args[0], finishStatus)
	},
}

var jobPriorityCmd = &cobra.Command{
	Use:   "priority <id> <priority>",
	Short: "Reorder a queued job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var priority int
		if _, err := fmt.Sscanf(args[1], "%d", &priority); err != nil {
			return fmt.Errorf("invalid priority %q: %w", args[1], err)
		}

		h := newHandle()
		defer h.Close()

		return h.Jobs().SetPriority(context.Background(), args[0], priority)
	},
}

func init() {
	jobSubmitCmd.Flags().StringVar(&submitName, "name", "", "job name")
	jobSubmitCmd.Flags().IntVar(&submitPriority, "priority", 0, "scheduling priority")
	jobSubmitCmd.Flags().DurationVar(&submitDuration, "duration", 0,
		"complete automatically after this long (0 = run until finished)")
	jobCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")
	jobFinishCmd.Flags().IntVar(&finishStatus, "status", 0, "exit status")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobInfoCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobFinishCmd)
	jobCmd.AddCommand(jobPriorityCmd)
}
