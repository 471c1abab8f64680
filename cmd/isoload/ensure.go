package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pspdemo/isoload/internal/launch"
)

func newEnsureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Extract the payload if it is not already present",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(opts, cmd, true)
			if err != nil {
				return err
			}
			defer cleanup()

			// Ctrl+C cancels the extraction; the partial file is redone next time
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path, err := ensurePayload(ctx, appCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newLocateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Print where the payload would be taken from, without extracting",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(opts, cmd, false)
			if err != nil {
				return err
			}
			defer cleanup()

			loc, err := appCtx.Locator.Resolve(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", loc.Mode, loc.Origin())
			return nil
		},
	}
}

func newPlayCmd(opts *rootOptions) *cobra.Command {
	var binary string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Ensure the payload, then start the game runtime with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(opts, cmd, true)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := appCtx.Config
			if binary != "" {
				cfg.Runtime.Binary = binary
			}

			// Validate the runtime first so we don't download for nothing
			rt, err := launch.NewCLIRuntime(cfg.Runtime.Binary, cfg.Runtime.Args, appCtx.Logger.With("component", "runtime"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path, err := ensurePayload(ctx, appCtx)
			if err != nil {
				return err
			}

			return rt.Start(ctx, path)
		},
	}

	cmd.Flags().StringVar(&binary, "runtime", "", "override runtime.binary")
	return cmd
}
