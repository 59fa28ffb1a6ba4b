package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewEventCmd создаёт группу команд для событий.
func NewEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Trigger and cancel notification events",
	}

	cmd.AddCommand(
		newEventTriggerCmd(clientFn, outputFn),
		newEventCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newEventTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var to []string
	var payload []string
	var transactionID string

	cmd := &cobra.Command{
		Use:   "trigger TEMPLATE",
		Short: "Trigger a notification template for subscribers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseKeyValues(payload)
			if err != nil {
				return err
			}

			res, err := clientFn().Trigger(cmd.Context(), TriggerRequest{
				Name:          args[0],
				To:            to,
				Payload:       values,
				TransactionID: transactionID,
			})
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Event triggered: %s", res.TransactionID))
			out.Print(
				[]string{"TRANSACTION_ID", "JOBS"},
				[][]string{{res.TransactionID, strconv.Itoa(res.Jobs)}},
				res,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "Subscriber IDs (repeatable)")
	cmd.Flags().StringSliceVar(&payload, "payload", nil, "Payload values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&transactionID, "transaction-id", "", "Transaction ID (generated if empty)")
	cmd.MarkFlagRequired("to")

	return cmd
}

func newEventCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TRANSACTION_ID",
		Short: "Cancel pending delay and digest jobs of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Canceled %d jobs of %s", res.Canceled, res.TransactionID))
			return nil
		},
	}
}

// parseKeyValues разбирает KEY=VALUE пары.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	values := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid payload format %q, expected KEY=VALUE", kv)
		}
		values[key] = value
	}
	return values, nil
}
