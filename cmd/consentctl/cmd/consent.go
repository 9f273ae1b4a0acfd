package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medrex/consent-ledger/pkg/types"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request consent from a patient",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		patient, _ := cmd.Flags().GetString("patient")
		purpose, _ := cmd.Flags().GetString("purpose")
		days, _ := cmd.Flags().GetInt("days")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		id, err := newClient().RequestConsent(ctx, &types.ConsentRequest{
			ProviderID:   provider,
			PatientID:    patient,
			Purpose:      purpose,
			DurationDays: days,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Contract: %s (%s)\n", id, types.StatusPending)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <contract-id>",
	Short: "Approve a pending consent request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patient, _ := cmd.Flags().GetString("patient")
		ctx, cancel := requestContext(cmd)
		defer cancel()

		contract, err := newClient().ApproveConsent(ctx, args[0], patient)
		if err != nil {
			return err
		}
		return printJSON(cmd, contract)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <contract-id>",
	Short: "Revoke a consent contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patient, _ := cmd.Flags().GetString("patient")
		ctx, cancel := requestContext(cmd)
		defer cancel()

		contract, err := newClient().RevokeConsent(ctx, args[0], patient)
		if err != nil {
			return err
		}
		return printJSON(cmd, contract)
	},
}

var contractCmd = &cobra.Command{
	Use:   "contract <contract-id>",
	Short: "Show a consent contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		contract, err := newClient().GetContract(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, contract)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <contract-id>",
	Short: "Show the audit history of a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		history, err := newClient().GetContractHistory(ctx, args[0])
		if err != nil {
			return err
		}
		for _, entry := range history {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-14s %s\n",
				entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"), entry.Action, entry.ActorID, entry.Details)
		}
		return nil
	},
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List contracts for a patient or provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		patient, _ := cmd.Flags().GetString("patient")
		provider, _ := cmd.Flags().GetString("provider")
		if (patient == "") == (provider == "") {
			return fmt.Errorf("exactly one of --patient or --provider is required")
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		c := newClient()
		var (
			contracts []*types.ConsentContract
			err       error
		)
		if patient != "" {
			contracts, err = c.GetContractsForPatient(ctx, patient)
		} else {
			contracts, err = c.GetContractsForProvider(ctx, provider)
		}
		if err != nil {
			return err
		}
		for _, contract := range contracts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %s -> %s  %s\n",
				contract.ContractID, contract.Status, contract.ProviderID, contract.PatientID, contract.Purpose)
		}
		return nil
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Check whether a provider may read a patient's records",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		patient, _ := cmd.Flags().GetString("patient")
		ctx, cancel := requestContext(cmd)
		defer cancel()

		decision, err := newClient().Authorize(ctx, provider, patient)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Allowed: %v\nReason: %s\n", decision.Allowed, decision.Reason)
		if decision.ContractID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Contract: %s\n", decision.ContractID)
		}
		return nil
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Read a patient's records as a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		patient, _ := cmd.Flags().GetString("patient")
		ctx, cancel := requestContext(cmd)
		defer cancel()

		record, err := newClient().AccessRecords(ctx, provider, patient)
		if err != nil {
			return err
		}
		return printJSON(cmd, record)
	},
}

func init() {
	requestCmd.Flags().String("provider", "", "requesting provider id")
	requestCmd.Flags().String("patient", "", "patient id")
	requestCmd.Flags().String("purpose", "", "purpose of access")
	requestCmd.Flags().Int("days", 0, "consent duration in days (server default when zero)")
	_ = requestCmd.MarkFlagRequired("provider")
	_ = requestCmd.MarkFlagRequired("patient")
	_ = requestCmd.MarkFlagRequired("purpose")

	for _, c := range []*cobra.Command{approveCmd, revokeCmd} {
		c.Flags().String("patient", "", "patient id")
		_ = c.MarkFlagRequired("patient")
	}

	contractsCmd.Flags().String("patient", "", "list contracts granted by this patient")
	contractsCmd.Flags().String("provider", "", "list contracts held by this provider")

	for _, c := range []*cobra.Command{authorizeCmd, recordsCmd} {
		c.Flags().String("provider", "", "provider id")
		c.Flags().String("patient", "", "patient id")
		_ = c.MarkFlagRequired("provider")
		_ = c.MarkFlagRequired("patient")
	}

	rootCmd.AddCommand(requestCmd, approveCmd, revokeCmd, contractCmd, historyCmd, contractsCmd, authorizeCmd, recordsCmd)
}
