package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bapelauto/coord/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "bapelctl",
	Short: "Coordinate concurrent bapelauto instances on one machine",
	Long: `bapelctl runs and inspects bapelauto coordination state.

Every running instance registers a heartbeat-backed session record and keeps
its own configuration file. Sessions whose process died are reclaimed by the
survivors, and the configuration of the last instance standing is promoted
to the shared layer that new instances start from.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/bapelauto/config.yaml)")
	rootCmd.PersistentFlags().String("base-dir", "", "coordination directory (default is the config directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.base_dir", rootCmd.PersistentFlags().Lookup("base-dir"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// BAPELAUTO_SESSION_TTL for session.ttl
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
}
