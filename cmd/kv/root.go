package kv

import (
	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	kvStore store.IStore
	kvDB    store.ResourceID

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value store operations",
		Long: `Perform key-value store operations.

Keys are json arrays, one element per key part: strings, booleans, numbers
(floats), {"int": "42"} and {"bytes": "<base64>"}. A key without brackets is
split at '/' into string parts, so users/alice is ["users", "alice"].`,
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	util.SetupRPCClientFlags(KeyValueCommands, 100)

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(deleteCmd)
	KeyValueCommands.AddCommand(sumCmd)
	KeyValueCommands.AddCommand(enqueueCmd)
	KeyValueCommands.AddCommand(listenCmd)
	KeyValueCommands.AddCommand(watchCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient opens the database all kv commands work on
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	kvStore, kvDB, err = util.OpenStore(cmd.Context())
	return err
}

func closeKVClient(_ *cobra.Command, _ []string) error {
	return kvStore.Close(kvDB)
}
