package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tgalerter/internal/app"
	"tgalerter/internal/config"
)

const defaultConfigPath = "./config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "alerter",
		Short:         "Relay strategy events from the queue to Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (.json, .yaml or .toml)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Consume events and deliver notifications until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), cfgPath)
		},
	}
	check := &cobra.Command{
		Use:     "check-config",
		Short:   "Validate a config file and exit",
		Example: "  alerter check-config --config /etc/alerter/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd, cfgPath)
		},
	}
	root.AddCommand(run, check, newRenderCmd())
	// bare "alerter" runs the relay
	root.RunE = run.RunE
	return root
}

func runRelay(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.LoadDotEnv(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func checkConfig(cmd *cobra.Command, cfgPath string) error {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return err
	}
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath)
	return nil
}
