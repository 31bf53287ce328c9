package main

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/streamflow/internal/app"
	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/service/deadletter"
)

const defaultFaultListLimit = 50

type faultView struct {
	ID            string                 `json:"id"`
	MessageType   string                 `json:"message_type"`
	Queue         string                 `json:"queue"`
	OrderID       string                 `json:"order_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Attempts      int                    `json:"attempts"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Exceptions    []domain.ExceptionInfo `json:"exceptions,omitempty"`
}

type replayOutput struct {
	FaultID       string `json:"fault_id"`
	MessageID     string `json:"message_id"`
	MessageType   string `json:"message_type"`
	CorrelationID string `json:"correlation_id"`
}

func toFaultView(r domain.FaultRecord) faultView {
	return faultView{
		ID:            r.ID,
		MessageType:   r.MessageType,
		Queue:         r.Queue,
		OrderID:       r.OrderID,
		CorrelationID: r.CorrelationID,
		Attempts:      r.Attempts,
		OccurredAt:    r.OccurredAt,
		Exceptions:    r.Exceptions,
	}
}

func newFaultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faults",
		Short: "Inspect and replay dead-lettered messages",
	}
	cmd.AddCommand(newFaultsListCmd(), newFaultsReplayCmd())
	return cmd
}

func newFaultsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded faults, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := log.WithField("component", "faults-cli")

			store, err := app.OpenStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Faults.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			views := make([]faultView, 0, len(records))
			for _, r := range records {
				views = append(views, toFaultView(r))
			}
			return writeJSON(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultFaultListLimit, "Maximum number of faults to print")
	return cmd
}

func newFaultsReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <fault-id>",
		Short: "Republish the original message of a fault under its message type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := log.WithField("component", "faults-cli")

			store, err := app.OpenStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			broker, err := app.OpenBroker(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer broker.Close()

			msg, err := deadletter.NewReplayer(store.Faults, broker, logger).Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), replayOutput{
				FaultID:       args[0],
				MessageID:     msg.ID,
				MessageType:   string(msg.Type),
				CorrelationID: msg.CorrelationID,
			})
		},
	}
}
