package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Gopher0727/RoleInvite/internal/events"
	"github.com/Gopher0727/RoleInvite/internal/pkg/kafka"
	"github.com/Gopher0727/RoleInvite/internal/utils"
)

const (
	communityFlag = "community"
	memberFlag    = "member"
)

var emitJoinCmd = &cobra.Command{
	Use:   "emit-join",
	Short: "Publish a member join event, as the community platform would",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		ev := events.MemberJoinEvent{
			CommunityID: viper.GetString(communityFlag),
			MemberID:    viper.GetString(memberFlag),
		}
		if !utils.ValidateID(ev.CommunityID) || !utils.ValidateID(ev.MemberID) {
			return events.ErrInvalidEvent
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sent, err := events.NewPublisher(producer, cfg.Kafka.Topics.MemberJoin, cfg.Kafka.Producer.MaxRetries).Publish(ctx, ev)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sent)
	},
}

func init() {
	emitJoinCmd.Flags().String(communityFlag, "", "Community the member joined")
	emitJoinCmd.Flags().String(memberFlag, "", "Member that joined")

	rootCmd.AddCommand(emitJoinCmd)
}
