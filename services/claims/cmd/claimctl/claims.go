package main

import (
	"strconv"

	"github.com/accordsai/claimlane/pkg/claimsclient"
	"github.com/spf13/cobra"
)

func (a *app) claimsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "claims", Short: "Submit, inspect, verify and pay claims"}

	list := &cobra.Command{
		Use:   "list <owner>",
		Short: "List an owner's claims in submission order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().Claims(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}

	show := &cobra.Command{
		Use:   "show <owner> <claim-id>",
		Short: "Show one claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().Claim(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}

	var req claimsclient.SubmitClaimRequest
	submit := &cobra.Command{
		Use:   "submit <claim-id>",
		Short: "Submit a new claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ClaimID = args[0]
			out, err := a.client().SubmitClaim(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	submit.Flags().StringVar(&req.Owner, "owner", "", "claim owner (defaults to the caller)")
	submit.Flags().StringVar(&req.Principal, "principal", "", "principal amount")
	submit.Flags().Uint64Var(&req.Leverage, "leverage", 0, "leverage factor")
	submit.Flags().Uint64Var(&req.InsuranceRate, "rate", 0, "insurance rate percentage")
	_ = submit.MarkFlagRequired("principal")

	var rejected bool
	verify := &cobra.Command{
		Use:   "verify <owner> <claim-id> <insurance-rate>",
		Short: "Record a validator decision and fix the payout amount",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return err
			}
			out, err := a.client().Verify(cmd.Context(), args[0], args[1], rate, !rejected)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	verify.Flags().BoolVar(&rejected, "reject", false, "record the claim as not verified")

	payout := &cobra.Command{
		Use:   "payout <owner> <claim-id>",
		Short: "Settle a verified claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().Payout(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}

	cmd.AddCommand(list, show, submit, verify, payout)
	return cmd
}
