package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/provider"
	libRecord "github.com/ValentinKolb/dSync/lib/record"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [name] [path]",
		Short: "Prints the value of a record, optionally at a path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := observeOptions(cmd, args)
			if err != nil {
				return err
			}

			ctx, cancel := interruptContext()
			defer cancel()

			value, err := rpcClient.Get(ctx, args[0], opts)
			if err != nil {
				return err
			}
			util.PrintJSON(value)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [name] [path] [value]",
		Short: "Writes a value at a path of a record and waits until the server saw it",
		Long:  "Writes a value at a path of a record. The value is parsed as JSON and used as string if that fails. Use \"\" as path to replace the whole document.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rpcClient.GetRecord(args[0])
			if err != nil {
				return err
			}
			defer ref.Release()

			if err := ref.Set(args[1], util.ParseValue(args[2])); err != nil {
				return err
			}
			return syncAndReport(ref)
		},
	}
	updateCmd = &cobra.Command{
		Use:   "incr [name] [path] [delta]",
		Short: "Adds a number to the value at a path once the record is synchronized",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, ok := util.ParseValue(args[2]).(float64)
			if !ok {
				return fmt.Errorf("delta must be a number: %s", args[2])
			}

			ctx, cancel := interruptContext()
			defer cancel()

			err := rpcClient.Update(ctx, args[0], args[1], func(prev any, _ string) (any, error) {
				n, _ := prev.(float64)
				return n + delta, nil
			})
			if err != nil {
				return err
			}
			if err := rpcClient.Sync(ctx); err != nil {
				return err
			}

			value, err := rpcClient.Get(ctx, args[0], store.ObserveOptions{Path: args[1]})
			if err != nil {
				return err
			}
			util.PrintJSON(value)
			return nil
		},
	}
	observeCmd = &cobra.Command{
		Use:   "observe [name] [path]",
		Short: "Prints every change of a record until interrupted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext()
			defer cancel()

			if len(args) == 1 {
				o, err := rpcClient.ObserveRecord(ctx, args[0])
				if err != nil {
					return err
				}
				for snapshot := range o.C() {
					util.PrintSnapshot(snapshot)
				}
				return ignoreCanceled(o.Err())
			}

			opts, err := observeOptions(cmd, args)
			if err != nil {
				return err
			}
			o, err := rpcClient.Observe(ctx, args[0], opts)
			if err != nil {
				return err
			}
			for value := range o.C() {
				util.PrintJSON(value)
			}
			return ignoreCanceled(o.Err())
		},
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Waits for a sync round trip with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext()
			defer cancel()

			start := time.Now()
			if err := rpcClient.Sync(ctx); err != nil {
				return err
			}
			fmt.Printf("synced in %s\n", time.Since(start))
			return nil
		},
	}
	provideCmd = &cobra.Command{
		Use:   "provide [pattern] [value]",
		Short: "Provides a fixed value for every record matching a pattern until interrupted",
		Long:  "Provides a fixed value for every record matching a pattern (a regular expression) until interrupted. The value must be a JSON object or array.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unicast, _ := cmd.Flags().GetBool("unicast")
			value := util.ParseValue(args[1])

			dispose, err := rpcClient.Provide(args[0], func(name string) (provider.Provision, error) {
				fmt.Printf("providing %s\n", name)
				return provider.Single(value), nil
			}, provider.Options{Unicast: unicast})
			if err != nil {
				return err
			}
			defer dispose()

			ctx, cancel := interruptContext()
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the client metrics after a sync round trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext()
			defer cancel()

			if err := rpcClient.Sync(ctx); err != nil {
				return err
			}
			rpcClient.WritePrometheus(os.Stdout)
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{getCmd, observeCmd} {
		cmd.Flags().String("state", "server", util.WrapString("Minimum state of the record (void, client, server, stale, provider)"))
		cmd.Flags().Duration("timeout", 0, util.WrapString("Fail if the state is not reached in time, 0 waits forever"))
	}
	provideCmd.Flags().Bool("unicast", false, util.WrapString("Register as unicast provider: the server assigns matches without negotiation"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func observeOptions(cmd *cobra.Command, args []string) (store.ObserveOptions, error) {
	var opts store.ObserveOptions
	if len(args) > 1 {
		opts.Path = args[1]
	}

	stateName, _ := cmd.Flags().GetString("state")
	state, ok := libRecord.ParseState(stateName)
	if !ok {
		return opts, fmt.Errorf("invalid state %s", stateName)
	}
	opts.State = store.AtLeast(state)
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	return opts, nil
}

// syncAndReport waits for the write to reach the server and prints the version
func syncAndReport(ref *store.RecordRef) error {
	ctx, cancel := interruptContext()
	defer cancel()

	if err := ref.When(ctx, libRecord.StateServer); err != nil {
		return err
	}
	if err := rpcClient.Sync(ctx); err != nil {
		return err
	}

	version, err := ref.Version()
	if err != nil {
		return err
	}
	fmt.Printf("set successfully (version %s)\n", version)
	return nil
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, store.ErrCanceled) {
		return nil
	}
	return err
}
