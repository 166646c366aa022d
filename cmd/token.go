package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Gopher0727/RoleInvite/middleware/jwt"
)

const (
	moderatorFlag   = "moderator"
	nameFlag        = "name"
	communitiesFlag = "communities"
)

var errMissingModerator = errors.New("missing moderator id")

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a command API token for a moderator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		moderator := strings.TrimSpace(viper.GetString(moderatorFlag))
		if moderator == "" {
			return errMissingModerator
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		token, err := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours).
			GenerateToken(moderator, viper.GetString(nameFlag), viper.GetStringSlice(communitiesFlag))
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String(moderatorFlag, "", "Moderator ID the token is issued to")
	tokenCmd.Flags().String(nameFlag, "", "Display name of the moderator")
	tokenCmd.Flags().StringSlice(communitiesFlag, []string{}, "Communities the moderator may manage (* for all)")

	rootCmd.AddCommand(tokenCmd)
}
