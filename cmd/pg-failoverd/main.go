// Command pg-failoverd is the coordinator's entrypoint, modeled on the
// teacher's cmd/manager: a cobra command tree with one subcommand
// package per verb (internal/cmd/manager's backup/bootstrap/instance/...
// split becomes serve/show here).
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marcbachmann/pg-auto-failover/cmd/pg-failoverd/app"
)

func main() {
	cmd := &cobra.Command{
		Use:          "pg-failoverd [cmd]",
		SilenceUsage: true,
	}

	cmd.AddCommand(app.NewServeCmd())
	cmd.AddCommand(app.NewShowCmd())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
