package command

import (
	"fmt"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"

	"github.com/skypro1111/osc-relay-service/internal/protocol"
)

// transmit sends msg opts.repeat times, pausing opts.interval between sends.
// It stops early if the command context is cancelled.
func transmit(cmd *cobra.Command, opts *options, msg *protocol.Message) error {
	packet, err := msg.OSC()
	if err != nil {
		return err
	}

	client := osc.NewClient(opts.host, opts.port)
	ctx := cmd.Context()

	for i := 0; i < opts.repeat; i++ {
		if i > 0 && opts.interval > 0 {
			timer := time.NewTimer(opts.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := client.Send(packet); err != nil {
			return fmt.Errorf("failed to send to %s:%d: %w", opts.host, opts.port, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s:%d\n", msg, opts.host, opts.port)
	}

	return nil
}
