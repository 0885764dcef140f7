package main

import (
	"github.com/spf13/cobra"

	"ChainPilot/internal/tools"
	"ChainPilot/internal/web3"
)

type toolView struct {
	tools.Schema
	Parameters map[string]any `json:"parameters"`
}

type accountView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Signer  string `json:"signer"`
}

// newToolsCmd 输出工具目录，不连接区块链节点。
func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog offered to the reasoning service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainConfig)
			if err != nil {
				return err
			}
			tokens, err := defs.TokenRegistry()
			if err != nil {
				return err
			}
			registry := tools.NewDefaultRegistry(tokens, cfg.Agent.DefaultSlippageBps)
			newWebSearch(cfg.Search, registry)
			schemas := registry.Schemas()
			views := make([]toolView, 0, len(schemas))
			for _, s := range schemas {
				views = append(views, toolView{Schema: s, Parameters: s.JSONSchema()})
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
}

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Print the named accounts seeded into new sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainConfig)
			if err != nil {
				return err
			}
			accounts, err := defs.ParseAccounts()
			if err != nil {
				return err
			}
			views := make([]accountView, 0, len(accounts))
			for _, acct := range accounts {
				signer := "node"
				if acct.Key != nil {
					signer = "local"
				}
				views = append(views, accountView{Name: acct.Name, Address: acct.Address.Hex(), Signer: signer})
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
}
