package command

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skypro1111/osc-relay-service/internal/protocol"
)

func newSendCmd(opts *options) *cobra.Command {
	var blobs []string

	cmd := &cobra.Command{
		Use:   "send <address> [args...]",
		Short: "Send one OSC message",
		Long: `Send an OSC message to the receiver.

Argument types are inferred: integers become int32 (i), decimals become
float32 (f) and anything else is a string (s). A type can be forced with a
prefix, e.g. "s:42" sends the string "42" and "b:0a0b" sends a two byte blob.
Blobs can also be appended in hex with --blob.

Examples:
  osc-send send /fader/1 0.75
  osc-send send /test/1 42 hello --blob deadbeef
  osc-send send /label s:007 --repeat 5 --interval 1s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			if !strings.HasPrefix(address, "/") {
				return fmt.Errorf("address must start with '/', got %q", address)
			}

			oscArgs, err := parseArgs(args[1:])
			if err != nil {
				return err
			}

			for _, b := range blobs {
				data, err := hex.DecodeString(b)
				if err != nil {
					return fmt.Errorf("invalid --blob value %q: %w", b, err)
				}
				oscArgs = append(oscArgs, protocol.Blob(data))
			}

			return transmit(cmd, opts, protocol.NewMessage(address, oscArgs...))
		},
	}

	cmd.Flags().StringArrayVar(&blobs, "blob", nil, "hex encoded blob argument appended after the other arguments (repeatable)")

	return cmd
}

// parseArgs converts command line values into typed OSC arguments
func parseArgs(values []string) ([]protocol.Arg, error) {
	args := make([]protocol.Arg, 0, len(values))
	for _, value := range values {
		arg, err := parseArg(value)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseArg(value string) (protocol.Arg, error) {
	if tag, rest, ok := strings.Cut(value, ":"); ok && len(tag) == 1 {
		switch protocol.ArgType(tag) {
		case protocol.TypeInt32:
			v, err := strconv.ParseInt(rest, 10, 32)
			if err != nil {
				return protocol.Arg{}, fmt.Errorf("invalid int32 argument %q: %w", value, err)
			}
			return protocol.Int(int32(v)), nil
		case protocol.TypeFloat32:
			v, err := strconv.ParseFloat(rest, 32)
			if err != nil {
				return protocol.Arg{}, fmt.Errorf("invalid float32 argument %q: %w", value, err)
			}
			return protocol.Float(float32(v)), nil
		case protocol.TypeString:
			return protocol.String(rest), nil
		case protocol.TypeBlob:
			data, err := hex.DecodeString(rest)
			if err != nil {
				return protocol.Arg{}, fmt.Errorf("invalid blob argument %q: %w", value, err)
			}
			return protocol.Blob(data), nil
		}
	}

	if v, err := strconv.ParseInt(value, 10, 32); err == nil {
		return protocol.Int(int32(v)), nil
	}
	if v, err := strconv.ParseFloat(value, 32); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return protocol.Float(float32(v)), nil
	}
	return protocol.String(value), nil
}
