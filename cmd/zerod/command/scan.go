package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCommand() *cobra.Command {
	var lower, upper string
	var lowerExcl, upperExcl, reverse, wait bool
	cmd := &cobra.Command{
		Use:   "scan <store>",
		Short: "Scans a range of keys in a store, printing tab-separated key/value pairs",
		Args:  cobra.ExactArgs(1),
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

			var lowerKey, upperKey []byte
			if cmd.Flags().Changed("lower") {
				lowerKey = []byte(lower)
			}
			if cmd.Flags().Changed("upper") {
				upperKey = []byte(upper)
			}

			ctx := context.Background()
			tx, err := v.Begin()
			if err != nil {
				exitWithError(err)
			}
			cur, err := v.Scan(ctx, tx, sid, lowerKey, !lowerExcl, upperKey, !upperExcl, !reverse, wait)
			if err != nil {
				_ = v.Abort(ctx, tx)
				exitWithError(err)
			}
			for {
				ok, err := cur.Next()
				if err != nil {
					_ = v.Abort(ctx, tx)
					exitWithError(err)
				}
				if !ok {
					break
				}
				fmt.Printf("%s\t%s\n", cur.Key(), cur.Value())
			}
			if err := v.Commit(tx); err != nil {
				exitWithError(err)
			}
		},
	}
	cmd.Flags().StringVar(&lower, "lower", "", "lower bound key (unbounded if omitted)")
	cmd.Flags().StringVar(&upper, "upper", "", "upper bound key (unbounded if omitted)")
	cmd.Flags().BoolVar(&lowerExcl, "lower-exclusive", false, "exclude the lower bound key itself")
	cmd.Flags().BoolVar(&upperExcl, "upper-exclusive", false, "exclude the upper bound key itself")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "scan in descending key order")
	cmd.Flags().BoolVar(&wait, "wait", true, "block on lock conflicts instead of returning LockRetry")
	return cmd
}
