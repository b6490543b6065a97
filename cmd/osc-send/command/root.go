package command

// root.go defines the root command and the flags shared by every subcommand.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// options holds the global flags
type options struct {
	host     string
	port     int
	repeat   int
	interval time.Duration
}

// NewRootCmd builds the osc-send command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "osc-send",
		Short: "osc-send - send OSC messages over UDP",
		Long: `osc-send is a small tool for feeding OSC messages to the relay service
or any other OSC receiver. It can:
- Send a message with arbitrary int, float, string and blob arguments
- Emulate a touch pad that reports /touch <pad> when a pad is pressed

Use "osc-send command --help" to see the options of each command.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.port < 1 || opts.port > 65535 {
				return fmt.Errorf("port must be between 1 and 65535, got %d", opts.port)
			}
			if opts.repeat < 1 {
				return fmt.Errorf("repeat must be at least 1, got %d", opts.repeat)
			}
			if opts.interval < 0 {
				return fmt.Errorf("interval cannot be negative, got %s", opts.interval)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.host, "host", "127.0.0.1", "receiver host")
	rootCmd.PersistentFlags().IntVarP(&opts.port, "port", "p", 5000, "receiver UDP port")
	rootCmd.PersistentFlags().IntVarP(&opts.repeat, "repeat", "n", 1, "number of times to send the message")
	rootCmd.PersistentFlags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "delay between repeated sends")

	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newTouchCmd(opts))

	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
