package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/accordsai/claimlane/pkg/claimsclient"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) paramsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "params", Short: "Show and govern protocol parameters"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current parameter set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client().Parameters(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(p)
		},
	})

	for _, name := range []string{"threshold", "fee", "quorum"} {
		cmd.AddCommand(&cobra.Command{
			Use:   name + " <value>",
			Short: "Set the " + name + " parameter",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				p, err := a.client().UpdateParameter(cmd.Context(), name, value)
				if err != nil {
					return err
				}
				return a.print(p)
			},
		})
	}

	simple := func(use, short string, fn func(*claimsclient.Client, context.Context) (claimsclient.Parameters, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := fn(a.client(), cmd.Context())
				if err != nil {
					return err
				}
				return a.print(p)
			},
		}
	}
	cmd.AddCommand(
		simple("pause", "Stop claim intake, verification and payouts", (*claimsclient.Client).Pause),
		simple("unpause", "Resume operation", (*claimsclient.Client).Unpause),
		&cobra.Command{
			Use:   "owner <identity>",
			Short: "Transfer governance to another identity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.client().TransferOwnership(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(p)
			},
		},
	)
	return cmd
}

// rosterFile is the document read by roster import.
type rosterFile struct {
	Whitelist  []string `yaml:"whitelist"`
	Blacklist  []string `yaml:"blacklist"`
	Validators []string `yaml:"validators"`
}

func readRosterFile(path string) (rosterFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return rosterFile{}, err
	}
	defer f.Close()
	var rf rosterFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return rosterFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rf, nil
}

type rosterChange struct {
	Roster   string `json:"roster"`
	Identity string `json:"identity"`
	Changed  bool   `json:"changed"`
}

func (a *app) rosterCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roster", Short: "Manage whitelist, blacklist and validator rosters"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <roster>",
		Short: "List roster members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := a.client().Members(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(members)
		},
	})

	change := func(use, short string, add bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <roster> <identity>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c := a.client()
				fn := c.RemoveMember
				if add {
					fn = c.AddMember
				}
				changed, err := fn(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.print(rosterChange{Roster: args[0], Identity: args[1], Changed: changed})
			},
		}
	}
	cmd.AddCommand(change("add", "Add an identity to a roster", true), change("remove", "Remove an identity from a roster", false))

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add every identity listed in a roster file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := readRosterFile(args[0])
			if err != nil {
				return err
			}
			c := a.client()
			var out []rosterChange
			for _, r := range []struct {
				name string
				ids  []string
			}{{"whitelist", rf.Whitelist}, {"blacklist", rf.Blacklist}, {"validators", rf.Validators}} {
				for _, id := range r.ids {
					id = strings.TrimSpace(id)
					if id == "" {
						continue
					}
					changed, err := c.AddMember(cmd.Context(), r.name, id)
					if err != nil {
						return fmt.Errorf("%s %s: %w", r.name, id, err)
					}
					out = append(out, rosterChange{Roster: r.name, Identity: id, Changed: changed})
				}
			}
			return a.print(out)
		},
	})
	return cmd
}

func (a *app) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Inspect and fund the settlement ledger"}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "balance",
			Short: "Show the ledger balance",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				bal, err := a.client().Balance(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(map[string]string{"balance": bal})
			},
		},
		&cobra.Command{
			Use:   "fund <amount>",
			Short: "Credit the ledger",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				bal, err := a.client().AddFunds(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(map[string]string{"balance": bal})
			},
		},
		&cobra.Command{
			Use:   "availability <amount>",
			Short: "Check whether the ledger covers an amount",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				av, err := a.client().Availability(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(av)
			},
		},
		&cobra.Command{
			Use:   "exposure",
			Short: "Summarize verified unpaid claims against the balance",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				exp, err := a.client().Exposure(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(exp)
			},
		},
	)
	return cmd
}

func (a *app) eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Query and verify the audit stream"}

	var q claimsclient.EventQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := a.client().Events(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.print(events)
		},
	}
	f := list.Flags()
	f.StringSliceVar(&q.Kinds, "kind", nil, "event kinds")
	f.StringVar(&q.Actor, "actor", "", "acting identity")
	f.StringVar(&q.Owner, "owner", "", "claim owner")
	f.StringVar(&q.ClaimID, "claim-id", "", "claim id")
	f.Uint64Var(&q.AfterSeq, "after", 0, "only events after this sequence number")
	f.IntVar(&q.Limit, "limit", 0, "maximum events returned")

	cmd.AddCommand(list, &cobra.Command{
		Use:   "verify",
		Short: "Recompute the audit hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.client().VerifyChain(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(rep)
		},
	})
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var period, since, until string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize claims, payouts and funding over a period",
		Example: `  claimctl report --period monthly
  claimctl report --since 2026-03-01 --until 2026-03-08`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := claimsclient.ReportQuery{Period: period}
			var err error
			if q.Since, err = parseReportTime(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if q.Until, err = parseReportTime(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			rep, err := a.client().Report(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.print(rep)
		},
	}
	f := cmd.Flags()
	f.StringVar(&period, "period", "", "daily, weekly, monthly, quarterly or yearly")
	f.StringVar(&since, "since", "", "range start, RFC3339 or YYYY-MM-DD (UTC)")
	f.StringVar(&until, "until", "", "range end (exclusive), RFC3339 or YYYY-MM-DD (UTC)")
	cmd.MarkFlagsMutuallyExclusive("period", "since")
	cmd.MarkFlagsMutuallyExclusive("period", "until")
	return cmd
}

func parseReportTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
