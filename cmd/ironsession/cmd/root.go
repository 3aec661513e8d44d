package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"backend":    "backend",
	"data-dir":   "data_dir",
	"issuer-url": "issuer_url",
	"identity":   "identity",
	"log-level":  "log_level",
}

var rootCmd = &cobra.Command{
	Use:   "ironsession",
	Short: "IronSession keeps an encrypted, time-bounded access credential",
	Long: `IronSession acquires access credentials from an issuer, stores them encrypted
under a locally held key, and reuses them until their validity window expires.
Complete documentation is available at https://github.com/jmcleod/ironsession`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/ironsession/ironsession.yaml)")
	pf.String("backend", "", "storage backend: bbolt, postgres, valkey or memory")
	pf.String("data-dir", "", "directory for the bbolt database")
	pf.String("issuer-url", "", "base URL of the credential issuer")
	pf.String("identity", "", "identity presented to the issuer (default: per-device UUID)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v := config.New(cfgFile)
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config file", slog.String("path", used))
	}
	return nil
}
