package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jra3/groupcore/internal/config"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <group-id> <sender-inbox-id> <message...>",
	Short: "Send a message to a group and sync it to the relay",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	groupID, senderInboxID := args[0], args[1]
	message := strings.Join(args[2:], " ")

	ctx := context.Background()
	if err := client.Send(ctx, groupID, senderInboxID, []byte(message)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after send: %w", err)
	}

	fmt.Println("Message sent.")
	return nil
}
