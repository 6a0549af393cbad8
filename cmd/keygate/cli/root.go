package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
)

var (
	cfgFile    string
	appVersion string // set by newRootCmd, reported by serve and openapi
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	appVersion = version

	cmd := &cobra.Command{
		Use:   "keygate",
		Short: "Issue, verify and rate-limit API keys",
		Long: `keygate issues API keys, stores only their SHA-256 digest, and guards
protected endpoints with per-key verification and fixed-window rate limiting.

Keys are managed over an admin-authenticated HTTP API or directly with the
'keygate key' commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keygate.yaml)")
	cmd.PersistentFlags().String("data-dir", "", "data directory for the SQLite store (default: ~/.keygate)")
	viper.BindPFlag("store.data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keygate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keygate")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("KEYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
