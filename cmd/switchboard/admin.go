package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/inspect"
	"github.com/mattjoyce/switchboard/internal/ledger"
	"github.com/mattjoyce/switchboard/internal/state"
)

func newAccountCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts and their credit",
	}
	cmd.AddCommand(
		newAccountCreateCommand(opts),
		newAccountEnableCommand(opts, "enable", true),
		newAccountEnableCommand(opts, "disable", false),
		newAccountCreditCommand(opts),
		newAccountInspectCommand(opts),
	)
	return cmd
}

func newAccountCreateCommand(opts *rootOptions) *cobra.Command {
	var number string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create <account-key>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.CreateAccount(cmd.Context(), state.Account{Key: args[0], Number: number, Enabled: !disabled}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (enabled=%t).\n", args[0], !disabled)
			return nil
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "Billing account number")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the account disabled")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newAccountEnableCommand(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <account-key>",
		Short: "Include or exclude an account from scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.SetAccountEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s enabled=%t.\n", args[0], enabled)
			return nil
		},
	}
}

func newAccountCreditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "credit <account-number> <credits>",
		Short: "Load credits onto a billing account, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || credits <= 0 {
				return fmt.Errorf("credits must be a positive integer, got %q", args[1])
			}

			cfg, db, _, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			l := ledger.New(db, ledger.Options{
				CreditFactor:    cfg.Ledger.CreditFactor,
				AlertThresholds: cfg.Ledger.AlertThresholds,
			})
			if _, err := l.CreateAccount(cmd.Context(), args[0]); err != nil && !errors.Is(err, ledger.ErrAccountExists) {
				return err
			}
			acct, err := l.LoadCredits(cmd.Context(), args[0], credits)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s balance %d (last top-up %d).\n",
				acct.Number, acct.CreditBalance, acct.LastTopup)
			return nil
		},
	}
}

func newAccountInspectCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect <account-key>",
		Short: "Show conversations, routing and credit for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			src := inspect.Source{
				Store:  store,
				Ledger: ledger.New(db, ledger.Options{CreditFactor: cfg.Ledger.CreditFactor}),
				Limit:  limit,
			}
			var out string
			if jsonOut {
				out, err = inspect.BuildJSONReport(cmd.Context(), src, args[0])
			} else {
				out, err = inspect.BuildReport(cmd.Context(), src, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().IntVar(&limit, "transactions", inspect.DefaultTransactions, "Recent transactions to list")
	return cmd
}

func newConversationCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	var conv state.Conversation
	var status string
	put := &cobra.Command{
		Use:   "put <account-key> <conversation-key>",
		Short: "Create or update a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch s := state.ConversationStatus(status); s {
			case state.StatusDraft, state.StatusRunning, state.StatusStopped, state.StatusArchived:
				conv.Status = s
			default:
				return fmt.Errorf("unknown status %q", status)
			}
			if conv.Type == "" {
				return errors.New("--type is required")
			}

			_, db, store, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			conv.AccountKey, conv.Key = args[0], args[1]
			if err := store.PutConversation(cmd.Context(), conv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s/%s [%s] is %s.\n", conv.AccountKey, conv.Key, conv.Type, conv.Status)
			return nil
		},
	}
	put.Flags().StringVar(&conv.Type, "type", "", "Conversation type")
	put.Flags().StringVar(&conv.Name, "name", "", "Display name")
	put.Flags().StringVar(&status, "status", string(state.StatusDraft), "draft, running, stopped or archived")
	put.Flags().StringSliceVar(&conv.BatchIDs, "batch", nil, "Message batch id (repeatable)")
	cmd.AddCommand(put)
	return cmd
}

func newTagsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage tag pools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <pool> <tag>...",
			Short: "Declare tags in a pool",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, db, store, err := opts.openState(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				if err := store.AddTags(cmd.Context(), args[0], args[1:]...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d tag(s) to %s.\n", len(args)-1, args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "acquire <pool> <account-key>",
			Short: "Allocate a free tag to an account",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, db, store, err := opts.openState(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				tag, err := store.AcquireTag(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tag)
				return nil
			},
		},
		&cobra.Command{
			Use:   "release <pool> <tag>",
			Short: "Return a tag to its pool",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, db, store, err := opts.openState(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				if err := store.ReleaseTag(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s:%s.\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}
