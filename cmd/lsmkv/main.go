// Command lsmkv is a small inspection and exercise tool for an lsmkv
// database, grounded on the teacher's ldb tool but restructured around
// cobra subcommands instead of a flat flag-and-switch dispatch.
//
// Usage:
//
//	lsmkv --db=<path> <command> [args...]
//
// Commands:
//
//	put <key> <value>       write a key
//	get <key>               read a key
//	delete <key>            tombstone a key
//	scan                    walk a partition in key order
//	compact                 force a manual compaction over a range
//	checkpoint <dest>       write a consistent copy of the database
//	stats                   print engine counters
//	create-partition <name> create a new column family
//	list-partitions         list column families
//	drop-partition <id>     drop a column family
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	rockyardkv "github.com/aalhour/rockyardkv"
)

var (
	dbPath        string
	partitionFlag uint32
	createMissing bool
	hexOutput     bool
)

func main() {
	root := &cobra.Command{
		Use:           "lsmkv",
		Short:         "inspect and exercise an lsmkv database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the database directory (required)")
	root.PersistentFlags().Uint32Var(&partitionFlag, "partition", 0, "partition id to operate on")
	root.PersistentFlags().BoolVar(&createMissing, "create_if_missing", false, "create the database if it doesn't exist")
	root.PersistentFlags().BoolVar(&hexOutput, "hex", false, "print keys and values as hex")
	root.MarkPersistentFlagRequired("db")

	root.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newScanCmd(),
		newCompactCmd(),
		newCheckpointCmd(),
		newStatsCmd(),
		newCreatePartitionCmd(),
		newListPartitionsCmd(),
		newDropPartitionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv: %v\n", err)
		os.Exit(1)
	}
}

func openDB() (*rockyardkv.DB, error) {
	opts := rockyardkv.DefaultOptions()
	opts.CreateIfMissing = createMissing
	return rockyardkv.Open(dbPath, opts)
}

func formatOutput(data []byte) string {
	if hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Put(partitionFlag, parseInput(args[0]), parseInput(args[1]), nil); err != nil {
				return fmt.Errorf("put: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			value, err := db.Get(partitionFlag, parseInput(args[0]), nil)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatOutput(value))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "tombstone a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Delete(partitionFlag, parseInput(args[0]), nil); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var fromKey, toKey string
	var limit int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "walk a partition in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			it, err := db.NewIterator(partitionFlag, nil)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			defer it.Close()

			if fromKey != "" {
				it.Seek(parseInput(fromKey))
			} else {
				it.SeekToFirst()
			}

			var toKeyBytes []byte
			if toKey != "" {
				toKeyBytes = parseInput(toKey)
			}

			out := cmd.OutOrStdout()
			count := 0
			for it.Valid() {
				if toKeyBytes != nil && bytes.Compare(it.Key(), toKeyBytes) >= 0 {
					break
				}
				fmt.Fprintf(out, "%s => %s\n", formatOutput(it.Key()), formatOutput(it.Value()))
				count++
				if limit > 0 && count >= limit {
					break
				}
				it.Next()
			}
			if err := it.Error(); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintf(out, "\n(%d entries scanned)\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromKey, "from", "", "start key, inclusive")
	cmd.Flags().StringVar(&toKey, "to", "", "end key, exclusive")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to print (0 = unlimited)")
	return cmd
}

func newCompactCmd() *cobra.Command {
	var begin, end string

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "force a manual compaction over a key range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			opts := &rockyardkv.CompactRangeOptions{}
			if begin != "" {
				opts.Begin = parseInput(begin)
			}
			if end != "" {
				opts.End = parseInput(end)
			}
			if err := db.CompactRange(partitionFlag, opts); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&begin, "begin", "", "inclusive range start (unbounded if empty)")
	cmd.Flags().StringVar(&end, "end", "", "exclusive range end (unbounded if empty)")
	return cmd
}

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <dest>",
		Short: "write a consistent copy of the database to dest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Checkpoint(args[0]); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print engine counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			s := db.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keys written:     %d\n", s.KeysWritten)
			fmt.Fprintf(out, "keys read:        %d\n", s.KeysRead)
			fmt.Fprintf(out, "flushes run:      %d\n", s.FlushesRun)
			fmt.Fprintf(out, "compactions run:  %d\n", s.CompactionsRun)
			fmt.Fprintf(out, "block cache:      %d hits, %d misses\n", s.BlockCacheHits, s.BlockCacheMisses)
			fmt.Fprintf(out, "table cache:      %d hits, %d misses\n", s.TableCacheHits, s.TableCacheMisses)
			if v, ok := db.GetProperty("rockyardkv.num-files-at-level0"); ok {
				fmt.Fprintf(out, "level0 files:     %s\n", v)
			}
			if v, ok := db.GetProperty("rockyardkv.total-sst-files"); ok {
				fmt.Fprintf(out, "total sst files:  %s\n", v)
			}
			return nil
		},
	}
}

func newCreatePartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-partition <name>",
		Short: "create a new column family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := db.CreatePartition(args[0], nil)
			if err != nil {
				return fmt.Errorf("create-partition: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created partition %d (%s)\n", p.ID, p.Name)
			return nil
		},
	}
}

func newListPartitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-partitions",
		Short: "list column families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			for _, p := range db.ListPartitions() {
				fmt.Fprintf(out, "%d\t%s\n", p.ID, p.Name)
			}
			return nil
		},
	}
}

func newDropPartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-partition <id>",
		Short: "drop a column family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("drop-partition: invalid partition id %q", args[0])
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, p := range db.ListPartitions() {
				if p.ID == uint32(id) {
					if err := db.DropPartition(p); err != nil {
						return fmt.Errorf("drop-partition: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "OK")
					return nil
				}
			}
			return fmt.Errorf("drop-partition: unknown partition %d", id)
		},
	}
}
