package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <operation> [json]",
	Short: "Call one operation with a JSON request",
	Example: `  vtclient call addDataset '{"name": "demo"}'
  vtclient call getTaskProgress '{"dataset_id": "demo", "task_id": "videotype_1f0c_vp"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props := map[string]any{}
		if len(args) == 2 {
			dec := json.NewDecoder(bytes.NewReader([]byte(args[1])))
			dec.UseNumber()
			if err := dec.Decode(&props); err != nil {
				return fmt.Errorf("invalid request JSON: %w", err)
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		out, err := c.Call(cmd.Context(), args[0], props)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}
