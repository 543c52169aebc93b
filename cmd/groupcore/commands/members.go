package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jra3/groupcore/internal/config"
	"github.com/spf13/cobra"
)

var addMembersCmd = &cobra.Command{
	Use:   "add-members <group-id> <actor-inbox-id> <inbox-id,...>",
	Short: "Queue an add_members intent for a group",
	Args:  cobra.ExactArgs(3),
	RunE:  runAddMembers,
}

var removeMembersCmd = &cobra.Command{
	Use:   "remove-members <group-id> <actor-inbox-id> <inbox-id,...>",
	Short: "Queue a remove_members intent for a group",
	Args:  cobra.ExactArgs(3),
	RunE:  runRemoveMembers,
}

var listMembersCmd = &cobra.Command{
	Use:   "list-members <group-id>",
	Short: "List a group's current membership",
	Args:  cobra.ExactArgs(1),
	RunE:  runListMembers,
}

func init() {
	rootCmd.AddCommand(addMembersCmd, removeMembersCmd, listMembersCmd)
}

func runAddMembers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	groupID, actorInboxID := args[0], args[1]
	inboxIDs := strings.Split(args[2], ",")

	ctx := context.Background()
	if err := client.AddMembers(ctx, groupID, actorInboxID, inboxIDs); err != nil {
		return fmt.Errorf("add members: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after add members: %w", err)
	}

	fmt.Println("Members added.")
	return nil
}

func runRemoveMembers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	groupID, actorInboxID := args[0], args[1]
	inboxIDs := strings.Split(args[2], ",")

	ctx := context.Background()
	if err := client.RemoveMembers(ctx, groupID, actorInboxID, inboxIDs); err != nil {
		return fmt.Errorf("remove members: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after remove members: %w", err)
	}

	fmt.Println("Members removed.")
	return nil
}

func runListMembers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	members, err := client.ListMembers(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	for _, m := range members {
		fmt.Printf("%s\t%s\n", m.InboxID, m.PermissionLevel)
	}
	return nil
}
