// Command zkexec runs RV32IM guest programs on the host and reports the
// proving cost of each segment.
//
// Usage:
//
//	zkexec run [flags] <guest.elf>
//	zkexec version
//
// Run flags:
//
//	--config        YAML config file; flags override its values
//	--segment-po2   log2 of the per-segment cycle limit (default: 20)
//	--session-limit total cycle limit, 0 for none (default: 0)
//	--env           KEY=VALUE served to the guest's getenv (repeatable)
//	--stdin         file backing the guest's stdin (default: process stdin)
//	--image-ids     compute pre/post image IDs for every segment
//	--trace         record the execution trace and report its commitment
//	--report        write the JSON report to a file instead of stdout
//	--log-level     debug, info, warn, error (default: info)
//	--log-format    text, color, json (default: text)
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zkexec",
		Short:         "Execute RISC-V zkVM guests and report proving cost",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zkexec %s (commit %s)\n", version, commit)
		},
	}
}
