package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"videoterror/internal/rpc"
)

var showSchema bool

var opsCmd = &cobra.Command{
	Use:   "ops [operation]",
	Short: "List the operations, or print the request schema of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			op, err := rpc.Lookup(args[0])
			if err != nil {
				return err
			}
			schema, err := op.RequestSchema()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		if showSchema {
			table.Header("Operation", "Path", "Request", "Response")
		} else {
			table.Header("Operation", "Path")
		}
		for _, op := range rpc.Operations() {
			if showSchema {
				table.Append(op.Name(), op.Path(), op.RequestType().Name(), op.ResponseType().Name())
			} else {
				table.Append(op.Name(), op.Path())
			}
		}
		return table.Render()
	},
}

func init() {
	opsCmd.Flags().BoolVar(&showSchema, "schema", false, "Show the message types of every operation")
}
