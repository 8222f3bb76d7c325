package command

// Each command in this file wraps its single operation in its own
// begin/commit transaction, the offline-tool equivalent of auto-commit: a
// one-shot CLI process has nowhere to hold a transaction open across
// separate invocations.

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPutCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "put <store> <key> <value>",
		Short: "Inserts a brand-new key into a store, failing if it already exists",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			sid, err := parseStoreID(args[0])
			if err != nil {
				exitWithError(err)
			}
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			if err := v.Insert(ctx, tx, sid, []byte(args[1]), []byte(args[2]), wait); err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}

func newUpdateCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "update <store> <key> <value>",
		Short: "Replaces an existing key's value in a store",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			sid, err := parseStoreID(args[0])
			if err != nil {
				exitWithError(err)
			}
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			if err := v.Update(ctx, tx, sid, []byte(args[1]), []byte(args[2]), wait); err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}

func newOverwriteCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "overwrite <store> <key> <offset> <data>",
		Short: "Patches data into an existing key's value at a byte offset",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			sid, err := parseStoreID(args[0])
			if err != nil {
				exitWithError(err)
			}
			off, err := strconv.Atoi(args[2])
			if err != nil {
				exitWithError(fmt.Errorf("invalid offset %q: %w", args[2], err))
			}
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			if err := v.Overwrite(ctx, tx, sid, []byte(args[1]), off, []byte(args[3]), wait); err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "remove <store> <key>",
		Short: "Logically deletes a key from a store",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			sid, err := parseStoreID(args[0])
			if err != nil {
				exitWithError(err)
			}
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			if err := v.Remove(ctx, tx, sid, []byte(args[1]), wait); err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}

func newGetCommand() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "get <store> <key>",
		Short: "Looks up a single key in a store",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			sid, err := parseStoreID(args[0])
			if err != nil {
				exitWithError(err)
			}
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			val, ok, err := v.Get(ctx, tx, sid, []byte(args[1]), wait)
			if err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
			if !ok {
				exitWithError(fmt.Errorf("key %q not found", args[1]))
			}
			fmt.Println(string(val))
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}
