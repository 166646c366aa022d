package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Gopher0727/RoleInvite/config"
)

const (
	configFlag = "config"
)

var rootCmd = &cobra.Command{
	Use:   "roleinvite",
	Short: "Invite-based autorole service",
	Long: `Grants roles to new community members based on the invite they joined with.

Moderators link invites to roles through the command API; member join events
are consumed from Kafka and attributed to the invite whose usage went up.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix(config.EnvPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

		return viper.BindPFlags(cmd.PersistentFlags())
	},
}

func Execute() error {
	rootCmd.PersistentFlags().StringP(configFlag, "c", "./config.toml", "Path to the TOML config file")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	viper.AutomaticEnv()

	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(viper.GetString(configFlag))
}
