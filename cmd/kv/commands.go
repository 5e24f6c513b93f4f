package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := common.ParseKey(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()

			result, err := kvStore.SnapshotRead(ctx, kvDB, []store.RangeRequest{{Start: key, Limit: 1}}, consistency(cmd))
			if err != nil {
				return err
			}
			if len(result[0]) == 0 {
				fmt.Printf("key=%s, found=false\n", common.FormatKey(key))
				return nil
			}
			printEntry(result[0][0])
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [prefix]",
		Short: "Lists all keys below a prefix",
		Long:  "Lists all keys below a prefix. Use --cursor with the cursor printed by a previous call to continue a listing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := common.ParseKey(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetUint32("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			req := store.RangeRequest{Prefix: prefix, Limit: limit, Reverse: reverse}
			if c, _ := cmd.Flags().GetString("cursor"); c != "" {
				req.Cursor = &c
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
			defer cancel()

			result, err := kvStore.SnapshotRead(ctx, kvDB, []store.RangeRequest{req}, consistency(cmd))
			if err != nil {
				return err
			}
			for _, e := range result[0] {
				printEntry(e)
			}
			if n := len(result[0]); n > 0 && uint32(n) == limit {
				cursor, err := kvStore.EncodeCursor(prefix, nil, nil, result[0][n-1].Key)
				if err != nil {
					return err
				}
				fmt.Printf("cursor=%s\n", cursor)
			}
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := common.ParseKey(args[0])
			if err != nil {
				return err
			}

			kind, _ := cmd.Flags().GetString("type")
			value, err := common.ParseValue(kind, args[1])
			if err != nil {
				return err
			}

			mutation := store.MutationRequest{Key: key, Kind: "set", Value: &value}
			if expireIn, _ := cmd.Flags().GetUint64("expire-in"); expireIn > 0 {
				mutation.ExpireIn = &expireIn
			}

			req := store.AtomicWriteRequest{Mutations: []store.MutationRequest{mutation}}
			if ifUnset, _ := cmd.Flags().GetBool("if-unset"); ifUnset {
				req.Checks = append(req.Checks, store.CheckRequest{Key: key})
			}
			if vs, _ := cmd.Flags().GetString("if-version"); vs != "" {
				req.Checks = append(req.Checks, store.CheckRequest{Key: key, Versionstamp: &vs})
			}
			return commit(cmd.Context(), req)
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := common.ParseKey(args[0])
			if err != nil {
				return err
			}
			return commit(cmd.Context(), store.AtomicWriteRequest{
				Mutations: []store.MutationRequest{{Key: key, Kind: "delete"}},
			})
		},
	}
	sumCmd = &cobra.Command{
		Use:   "sum [key] [n]",
		Short: "Adds n to the u64 value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := common.ParseKey(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("n must be a number: %w", err)
			}
			value := db.U64Value(n)
			return commit(cmd.Context(), store.AtomicWriteRequest{
				Mutations: []store.MutationRequest{{Key: key, Kind: "sum", Value: &value}},
			})
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{getCmd, listCmd} {
		c.Flags().Bool("eventual", false, util.WrapString("Allow stale reads (raft shards read from the local replica)"))
	}

	listCmd.Flags().Uint32("limit", 100, util.WrapString("Maximum number of entries to list"))
	listCmd.Flags().Bool("reverse", false, util.WrapString("List in descending key order"))
	listCmd.Flags().String("cursor", "", util.WrapString("Continue after the cursor of a previous listing"))

	setCmd.Flags().String("type", "bytes", util.WrapString("Type of the value (serialized, bytes, u64)"))
	setCmd.Flags().Uint64("expire-in", 0, util.WrapString("Expire the entry after this many milliseconds (0 for never)"))
	setCmd.Flags().Bool("if-unset", false, util.WrapString("Only set the key if it does not exist"))
	setCmd.Flags().String("if-version", "", util.WrapString("Only set the key if its versionstamp matches"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func consistency(cmd *cobra.Command) db.Consistency {
	if eventual, _ := cmd.Flags().GetBool("eventual"); eventual {
		return db.ConsistencyEventual
	}
	return db.ConsistencyStrong
}

// commit runs an atomic write and prints the versionstamp of the commit
func commit(ctx context.Context, req store.AtomicWriteRequest) error {
	ctx, cancel := context.WithTimeout(ctx, util.Timeout())
	defer cancel()

	vs, err := kvStore.AtomicWrite(ctx, kvDB, req)
	if err != nil {
		return err
	}
	if vs == nil {
		fmt.Println("check failed, nothing written")
		return nil
	}
	fmt.Printf("ok, versionstamp=%s\n", *vs)
	return nil
}

func printEntry(e store.Entry) {
	fmt.Printf("key=%s, versionstamp=%s, value=%s\n", common.FormatKey(e.Key), e.Versionstamp, common.FormatValue(e.Value))
}
