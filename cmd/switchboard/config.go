package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/doctor"
	"github.com/mattjoyce/switchboard/internal/log"
)

var errConfigInvalid = errors.New("configuration invalid")

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}

	var jsonOut, strict bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, handler chains and worker wiring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			handlers := dispatch.NewHandlerRegistry()
			if err := dispatch.RegisterBuiltins(handlers, nil, log.WithComponent("doctor")); err != nil {
				return err
			}
			result := doctor.New(cfg, handlers).Validate()

			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}

			if !result.Valid || (strict && len(result.Warnings) > 0) {
				return errConfigInvalid
			}
			return nil
		},
	}
	check.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	check.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	var verify string
	hash := &cobra.Command{
		Use:   "hash",
		Short: "Print the config fingerprint logged at startup, or verify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if verify != "" {
				if err := config.VerifyFingerprint(opts.configPath, verify); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Fingerprint matches.")
				return nil
			}
			sum, err := config.FileFingerprint(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	hash.Flags().StringVar(&verify, "verify", "", "Expected fingerprint; fail if the file differs")

	cmd.AddCommand(check, hash)
	return cmd
}
