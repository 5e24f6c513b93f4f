package lock

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/lockmgr"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	lockStore  store.IStore
	lockDB     store.ResourceID
	lockMgr    lockmgr.ILockManager
	acquireTTL uint64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		Long:               "Perform lock operations. Locks are stored below the key [\"lock\", <name>] of the selected database.",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [name] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using its name and owner ID. The owner ID is printed by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// locks live in their own shard by default
	util.SetupRPCClientFlags(LockCommands, 200)

	acquireCmd.Flags().Uint64Var(&acquireTTL, "ttl", 30_000, util.WrapString("Lock timeout in milliseconds (0 for no timeout)"))
}

// setupLockClient opens the database the locks are stored in
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	lockStore, lockDB, err = util.OpenStore(cmd.Context())
	if err != nil {
		return err
	}
	lockMgr = lockmgr.NewLockManager(lockStore, lockDB)
	return nil
}

func closeLockClient(_ *cobra.Command, _ []string) error {
	return lockStore.Close(lockDB)
}

func lockKey(name string) keycodec.Key {
	return keycodec.Key{keycodec.String("lock"), keycodec.String(name)}
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
	defer cancel()

	acquired, ownerID, err := lockMgr.AcquireLock(ctx, lockKey(args[0]), acquireTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}
	fmt.Printf("acquired=true, ownerId=%s\n", ownerID)
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), util.Timeout())
	defer cancel()

	released, err := lockMgr.ReleaseLock(ctx, lockKey(args[0]), args[1])
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	fmt.Printf("released=%v\n", released)
	return nil
}
