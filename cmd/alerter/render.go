package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tgalerter/internal/event"
	"tgalerter/internal/format"
)

// newRenderCmd prints the notification an event would produce, without
// touching the queue, the orchestrator or Telegram.
func newRenderCmd() *cobra.Command {
	var eventPath, infoPath string
	cmd := &cobra.Command{
		Use:     "render",
		Short:   "Print the formatted notification for an event payload",
		Example: "  alerter render --event event.json --info strategy.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(eventPath)
			if err != nil {
				return err
			}
			ev, err := event.Decode(payload)
			if err != nil {
				return err
			}
			var info *event.StrategyInfo
			if infoPath != "" {
				b, err := os.ReadFile(infoPath)
				if err != nil {
					return err
				}
				info = &event.StrategyInfo{}
				if err := json.Unmarshal(b, info); err != nil {
					return fmt.Errorf("decode strategy info: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Event(ev, info))
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventPath, "event", "e", "", "event payload JSON file")
	cmd.Flags().StringVarP(&infoPath, "info", "i", "", "strategy metadata JSON file (chatId, symbol, timeframe, exchange)")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}
