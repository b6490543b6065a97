package command

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skypro1111/osc-relay-service/internal/protocol"
)

// touchPads is the number of electrodes on the capacitive touch board
const touchPads = 12

func newTouchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <pad>",
		Short: "Emulate a touch pad press",
		Long: fmt.Sprintf(`Send /touch <pad> with the pad index as an int32, the message a
capacitive touch board sends when one of its pads is pressed.

The pad index must be between 0 and %d.`, touchPads-1),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pad, err := strconv.Atoi(args[0])
			if err != nil || pad < 0 || pad >= touchPads {
				return fmt.Errorf("pad must be an integer between 0 and %d, got %q", touchPads-1, args[0])
			}

			return transmit(cmd, opts, protocol.NewMessage("/touch", protocol.Int(int32(pad))))
		},
	}
}
