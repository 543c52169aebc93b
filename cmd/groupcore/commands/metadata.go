package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jra3/groupcore/internal/config"
	"github.com/spf13/cobra"
)

var (
	updateMetaName        string
	updateMetaDescription string
	updateMetaMinVersion  string
)

var updateMetadataCmd = &cobra.Command{
	Use:   "update-metadata <group-id> <actor-inbox-id>",
	Short: "Queue an update_metadata intent for a group",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdateMetadata,
}

var updateAdminListCmd = &cobra.Command{
	Use:   "update-admin-list <group-id> <actor-inbox-id> <super-admin-inbox-id,...>",
	Short: "Queue an update_admin_list intent replacing a group's super-admin list",
	Args:  cobra.ExactArgs(3),
	RunE:  runUpdateAdminList,
}

var updatePermissionCmd = &cobra.Command{
	Use:   "update-permission <group-id> <actor-inbox-id> <default|admins_only>",
	Short: "Queue an update_permission intent switching a group's policy preset",
	Args:  cobra.ExactArgs(3),
	RunE:  runUpdatePermission,
}

func init() {
	rootCmd.AddCommand(updateMetadataCmd, updateAdminListCmd, updatePermissionCmd)

	updateMetadataCmd.Flags().StringVar(&updateMetaName, "name", "", "new group_name")
	updateMetadataCmd.Flags().StringVar(&updateMetaDescription, "description", "", "new description")
	updateMetadataCmd.Flags().StringVar(&updateMetaMinVersion, "min-version", "", "raise minimum_supported_protocol_version, pausing members below it")
}

func runUpdateMetadata(cmd *cobra.Command, args []string) error {
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

	attrs := map[string]string{}
	if updateMetaName != "" {
		attrs["group_name"] = updateMetaName
	}
	if updateMetaDescription != "" {
		attrs["description"] = updateMetaDescription
	}
	if updateMetaMinVersion != "" {
		attrs["minimum_supported_protocol_version"] = updateMetaMinVersion
	}
	if len(attrs) == 0 {
		return fmt.Errorf("update metadata: nothing to update, pass --name, --description, or --min-version")
	}

	ctx := context.Background()
	if err := client.UpdateMetadata(ctx, groupID, actorInboxID, attrs); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after update metadata: %w", err)
	}

	fmt.Println("Metadata updated.")
	return nil
}

func runUpdateAdminList(cmd *cobra.Command, args []string) error {
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
	superAdmins := strings.Split(args[2], ",")

	ctx := context.Background()
	if err := client.UpdateAdminList(ctx, groupID, actorInboxID, superAdmins); err != nil {
		return fmt.Errorf("update admin list: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after update admin list: %w", err)
	}

	fmt.Println("Admin list updated.")
	return nil
}

func runUpdatePermission(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	groupID, actorInboxID, preset := args[0], args[1], args[2]

	ctx := context.Background()
	if err := client.UpdatePermission(ctx, groupID, actorInboxID, preset); err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if err := client.Sync(ctx, groupID); err != nil {
		return fmt.Errorf("sync after update permission: %w", err)
	}

	fmt.Println("Permission preset updated.")
	return nil
}
