package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/txKV/cmd/kv"
	"github.com/ValentinKolb/txKV/cmd/lock"
	"github.com/ValentinKolb/txKV/cmd/serve"
	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "txkv",
		Short: "transactional key-value store",
		Long: fmt.Sprintf(`txKV (v%s)

A transactional key-value store with tuple keys, versionstamps, atomic
checked writes, watches and a durable message queue. Databases live in
memory, on disk (pebble) or are replicated with RAFT.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of txKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("txKV v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, http, quic)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
