// nsbox — sandboxed tool-execution server over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nsbox",
	Short: "nsbox — sandboxed tool-execution server over stdio.",
	Long: `nsbox exposes a small catalog of tools (file access, namespace-isolated
process execution) to a caller speaking line-delimited JSON-RPC on stdin/stdout.
The unshare_exec tool runs binaries inside freshly unshared Linux kernel
namespaces; if the requested isolation cannot be established, the binary is
not run at all.`,
	RunE:          runServe, // Default to serving on stdio.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
