package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/routing"
)

func newRoutingCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routing",
		Short: "Inspect and edit per-account routing tables",
	}
	cmd.AddCommand(
		newRoutingShowCommand(opts),
		newRoutingValidateCommand(),
		newRoutingConnectCommand(opts),
		newRoutingApplyCommand(opts),
	)
	return cmd
}

func newRoutingShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Print an account's routing document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			table, rev, err := store.GetRoutingTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := routing.MarshalDocument(args[0], rev, table)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newRoutingValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document.json>",
		Short: "Check that every entry in a routing document has its reverse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, table, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if err := table.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Routing document valid (%d entries).\n", table.Len())
			return nil
		},
	}
}

func newRoutingConnectCommand(opts *rootOptions) *cobra.Command {
	var aEndpoint, bEndpoint string
	cmd := &cobra.Command{
		Use:   "connect <account> <connector-a> <connector-b>",
		Short: "Add a paired entry between two connectors and save the table",
		Example: "  switchboard routing connect acc CONVERSATION:bulk_message:spring CHANNEL:sms:1234\n" +
			"  switchboard routing connect acc ROUTER:keyword:r1:OUTBOUND CONVERSATION:survey:s1 --a-endpoint yes",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := routing.ParseConnector(args[1])
			if err != nil {
				return err
			}
			b, err := routing.ParseConnector(args[2])
			if err != nil {
				return err
			}

			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			table, rev, err := store.GetRoutingTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := table.Connect(a, aEndpoint, b, bEndpoint); err != nil {
				return err
			}
			newRev, err := store.SaveRoutingTable(cmd.Context(), args[0], table, rev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved routing table for %s at revision %d (%d entries).\n",
				args[0], newRev, table.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&aEndpoint, "a-endpoint", routing.DefaultEndpoint, "Endpoint on the first connector")
	cmd.Flags().StringVar(&bEndpoint, "b-endpoint", routing.DefaultEndpoint, "Endpoint on the second connector")
	return cmd
}

func newRoutingApplyCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "apply <account> <document.json>",
		Short: "Replace an account's routing table with a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, table, err := readDocument(args[1])
			if err != nil {
				return err
			}
			if doc.AccountKey != "" && doc.AccountKey != args[0] {
				return fmt.Errorf("document is for account %q, not %q", doc.AccountKey, args[0])
			}

			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			expected := doc.Revision
			if force {
				if _, expected, err = store.GetRoutingTable(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			rev, err := store.SaveRoutingTable(cmd.Context(), args[0], table, expected)
			var structural *routing.StructuralError
			if errors.As(err, &structural) {
				return fmt.Errorf("rejected: %w", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved routing table for %s at revision %d (%d entries).\n",
				args[0], rev, table.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite regardless of the document's revision")
	return cmd
}

func readDocument(path string) (routing.Document, *routing.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return routing.Document{}, nil, fmt.Errorf("read routing document: %w", err)
	}
	return routing.UnmarshalDocument(data)
}
