package kv

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/spf13/cobra"
)

var (
	enqueueCmd = &cobra.Command{
		Use:   "enqueue [payload]",
		Short: "Adds a message to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, _ := cmd.Flags().GetUint64("delay")
			enqueue := store.EnqueueRequest{Payload: []byte(args[0]), DelayMs: delay}

			undelivered, _ := cmd.Flags().GetStringSlice("if-undelivered")
			for _, k := range undelivered {
				key, err := common.ParseKey(k)
				if err != nil {
					return err
				}
				enqueue.KeysIfUndelivered = append(enqueue.KeysIfUndelivered, key)
			}

			return commit(cmd.Context(), store.AtomicWriteRequest{Enqueues: []store.EnqueueRequest{enqueue}})
		},
	}
	listenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Receives messages from the queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			fail, _ := cmd.Flags().GetBool("fail")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			for received := 0; count <= 0 || received < count; received++ {
				msg, err := kvStore.DequeueNextMessage(ctx, kvDB)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if msg == nil {
					return nil
				}
				fmt.Printf("message=%s\n", msg.Payload)

				// a failed message is redelivered according to its backoff schedule
				if err := kvStore.FinishDequeuedMessage(context.WithoutCancel(ctx), msg.Handle, !fail); err != nil {
					return err
				}
			}
			return nil
		},
	}
	watchCmd = &cobra.Command{
		Use:   "watch [key...]",
		Short: "Prints the changes of up to 10 keys until interrupted",
		Args:  cobra.RangeArgs(1, store.MaxWatchedKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]keycodec.Key, 0, len(args))
			for _, a := range args {
				key, err := common.ParseKey(a)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}
			count, _ := cmd.Flags().GetInt("count")

			wid, err := kvStore.Watch(kvDB, keys)
			if err != nil {
				return err
			}
			defer kvStore.Close(wid)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			for updates := 0; count <= 0 || updates < count; updates++ {
				entries, ok, err := kvStore.WatchNext(ctx, wid)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if !ok {
					return nil
				}
				for i, e := range entries {
					switch {
					case !e.Changed:
						continue
					case e.Entry == nil:
						fmt.Printf("key=%s, deleted\n", common.FormatKey(keys[i]))
					default:
						printEntry(*e.Entry)
					}
				}
			}
			return nil
		},
	}
)

func init() {
	enqueueCmd.Flags().Uint64("delay", 0, util.WrapString("Deliver the message after this many milliseconds"))
	enqueueCmd.Flags().StringSlice("if-undelivered", nil, util.WrapString("Keys that receive the payload if the message can not be delivered"))

	listenCmd.Flags().Int("count", 0, util.WrapString("Stop after this many messages (0 for no limit)"))
	listenCmd.Flags().Bool("fail", false, util.WrapString("Finish messages as failed, so they are redelivered"))

	watchCmd.Flags().Int("count", 0, util.WrapString("Stop after this many updates (0 for no limit)"))
}
