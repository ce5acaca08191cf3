// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs workloads on a demand-paged virtual memory system.",
	Long: `vmsim runs workloads on a demand-paged virtual memory system. ` +
		`A workload script spawns processes, maps files, and reads and ` +
		`writes their memory while a small pool of frames is shared ` +
		`between them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. The atexit handlers, which flush the recorded traces, run
// before the program exits.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
