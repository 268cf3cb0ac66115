package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newOCRCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <file-id>",
		Short: "Extract text from an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := root.client().Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newHealthCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := root.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %s, %d active batches)\n", h.Status, h.Version, h.Batches)
			return nil
		},
	}
}
