package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jra3/groupcore/internal/config"
	"github.com/jra3/groupcore/internal/group"
	"github.com/spf13/cobra"
)

var (
	groupName    string
	groupPreset  string
	groupMembers string
)

var createGroupCmd = &cobra.Command{
	Use:   "create-group <creator-inbox-id>",
	Short: "Create a new multi-member group",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateGroup,
}

var createDMCmd = &cobra.Command{
	Use:   "create-dm <creator-inbox-id> <peer-inbox-id>",
	Short: "Create (or reuse) a direct-message group between two inboxes",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateDM,
}

var listGroupsCmd = &cobra.Command{
	Use:   "list-groups",
	Short: "List this installation's active groups",
	Args:  cobra.NoArgs,
	RunE:  runListGroups,
}

var listMessagesCmd = &cobra.Command{
	Use:   "list-messages <group-id>",
	Short: "List a group's message history",
	Args:  cobra.ExactArgs(1),
	RunE:  runListMessages,
}

func init() {
	rootCmd.AddCommand(createGroupCmd, createDMCmd, listGroupsCmd, listMessagesCmd)

	createGroupCmd.Flags().StringVar(&groupName, "name", "", "group name")
	createGroupCmd.Flags().StringVar(&groupPreset, "preset", "", "policy preset: default or admins_only")
	createGroupCmd.Flags().StringVar(&groupMembers, "members", "", "comma-separated inbox ids to add at creation")
}

func runCreateGroup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	var members []string
	if groupMembers != "" {
		members = strings.Split(groupMembers, ",")
	}

	g, err := client.CreateGroup(context.Background(), args[0], group.CreateGroupOptions{
		MemberInboxIDs: members,
		PolicyPreset:   groupPreset,
		Name:           groupName,
	})
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	fmt.Printf("Created group %s\n", g.GroupID)
	return nil
}

func runCreateDM(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	g, err := client.CreateDM(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("create dm: %w", err)
	}

	fmt.Printf("DM group %s\n", g.GroupID)
	return nil
}

func runListGroups(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	groups, err := client.ListGroups(context.Background(), group.ListFilter{})
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	for _, g := range groups {
		kind := "group"
		if g.IsDM() {
			kind = "dm"
		}
		paused := ""
		if g.PausedForVersion != "" {
			paused = fmt.Sprintf(" [paused: requires %s]", g.PausedForVersion)
		}
		fmt.Printf("%s\t%s%s\n", g.GroupID, kind, paused)
	}
	return nil
}

func runListMessages(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	msgs, err := client.ListMessages(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, m := range msgs {
		sentAt := time.Unix(0, m.SentAtNs).UTC()
		fmt.Printf("%s (%s)\t%s\t%s\n", humanize.Time(sentAt), sentAt.Format(time.RFC3339), m.SenderInstallationID, string(m.DecryptedBytes))
	}
	return nil
}
