package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/accordsai/claimlane/pkg/claimsclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// app carries the settings shared by every subcommand.
type app struct {
	v       *viper.Viper
	out     io.Writer
	cfgFile string
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	root := &cobra.Command{
		Use:   "claimctl",
		Short: "Operate a claimlane claims service",
		Long: `claimctl submits, verifies and settles claims against a running claims
service, and manages its parameters, rosters, ledger and audit stream.

Database commands (migrate, token issue/revoke) talk to Postgres directly.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./claimctl.yaml or $HOME/.claimlane/claimctl.yaml)")
	pf.String("server", "http://localhost:8090", "claims service base url")
	pf.String("token", "", "bearer token")
	pf.String("idempotency-key", "", "Idempotency-Key sent with mutations")
	pf.StringP("output", "o", "json", "output format: json or yaml")
	pf.String("database-url", "", "postgres url for database commands")
	for key, flag := range map[string]string{
		"server":          "server",
		"token":           "token",
		"idempotency_key": "idempotency-key",
		"output":          "output",
		"database_url":    "database-url",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		a.claimsCmd(),
		a.paramsCmd(),
		a.rosterCmd(),
		a.ledgerCmd(),
		a.eventsCmd(),
		a.reportCmd(),
		a.migrateCmd(),
		a.tokenCmd(),
	)
	return root
}

// initConfig reads the optional config file and CLAIMLANE_* environment variables.
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("claimctl")
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME/.claimlane")
	}
	a.v.SetEnvPrefix("CLAIMLANE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindEnv("database_url", "CLAIMLANE_DATABASE_URL", "DATABASE_URL")

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || a.cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}
	switch a.v.GetString("output") {
	case "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output %q", a.v.GetString("output"))
	}
}

func (a *app) client() *claimsclient.Client {
	c := claimsclient.New(a.v.GetString("server"), a.v.GetString("token"))
	if key := a.v.GetString("idempotency_key"); key != "" {
		c = c.WithIdempotencyKey(key)
	}
	return c
}

func (a *app) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if a.v.GetString("output") != "yaml" {
		_, err = fmt.Fprintln(a.out, string(b))
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return err
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles the JSON input carried in.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
