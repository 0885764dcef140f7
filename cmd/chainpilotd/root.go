package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ChainPilot/internal/config"
	"ChainPilot/pkg/logger"
)

const configEnv = "CHAINPILOT_CONFIG"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "chainpilotd",
		Short:         "Natural-language assistant for EVM wallets",
		Long:          "chainpilotd turns chat messages into grounded, validated blockchain tool calls against a (forked) Ethereum node.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"配置文件路径（默认读取 $"+configEnv+"，其次 configs/chainpilot.json）")

	cmd.AddCommand(
		newServeCmd(opts),
		newToolsCmd(opts),
		newAccountsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return filepath.Join("configs", "chainpilot.json")
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.path())
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "chainpilotd",
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
