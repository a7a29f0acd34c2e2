package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sqlrunner/cmd/cli/servecmd"
)

var RootCmd = &cobra.Command{
	Use:   "srctl",
	Short: "SQLRunner - an RPC server for SQL transformations",
	Long: `SQLRunner compiles and executes parameterized SQL transformations over JSON-RPC.

It serves a single /jsonrpc endpoint that accepts compile/run requests plus
whole-project operations, tracks every request as a killable task, and
hot-reloads the compiled project graph on SIGHUP.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(servecmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
