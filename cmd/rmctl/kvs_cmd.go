package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var kvsCmd = &cobra.Command{
	Use:   "kvs",
	Short: "Read and write the key-value store",
}

var kvsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		value, err := h.KVS().Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		os.Stdout.Write(value)
		fmt.Println()
		return nil
	},
}

var kvsPutCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store value under key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		return h.KVS().Put(context.Background(), args[0], []byte(args[1]))
	},
}

var kvsUnlinkCmd = &cobra.Command{
	Use:   "unlink <key>",
	Short: "Remove key and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		return h.KVS().Unlink(context.Background(), args[0])
	},
}

var kvsDirCmd = &cobra.Command{
	Use:   "dir [key]",
	Short: "List child names under key (or the root)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}

		h := newHandle()
		defer h.Close()

		names, err := h.KVS().Dir(context.Background(), key)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var kvsRootSeqCmd = &cobra.Command{
	Use:   "rootseq",
	Short: "Print the current root sequence number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		seq, err := h.KVS().RootSeq(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(seq)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <name>",
	Short: "Write a named checkpoint now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHandle()
		defer h.Close()

		cp, err := h.KVS().Checkpoint(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cp)
	},
}

func init() {
	kvsCmd.AddCommand(kvsGetCmd)
	kvsCmd.AddCommand(kvsPutCmd)
	kvsCmd.AddCommand(kvsUnlinkCmd)
	kvsCmd.AddCommand(kvsDirCmd)
	kvsCmd.AddCommand(kvsRootSeqCmd)
}
