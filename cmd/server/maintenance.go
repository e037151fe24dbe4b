package main

import (
	"fmt"

	"dashboard-auth/internal/app"
	"dashboard-auth/internal/membership"

	"github.com/spf13/cobra"
)

var (
	userID  string
	roleID  string
	orgID   string
	orgName string
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(revokeSessionsCmd)
	rootCmd.AddCommand(assignRoleCmd)
	rootCmd.AddCommand(unassignRoleCmd)
	rootCmd.AddCommand(createOrgCmd)

	createOrgCmd.Flags().StringVar(&orgName, "name", "", "organization name")
	createOrgCmd.Flags().StringVar(&userID, "owner", "", "user id of the first owner")
	_ = createOrgCmd.MarkFlagRequired("name")
	_ = createOrgCmd.MarkFlagRequired("owner")

	revokeSessionsCmd.Flags().StringVar(&userID, "user", "", "user id whose sessions are revoked")
	_ = revokeSessionsCmd.MarkFlagRequired("user")

	for _, c := range []*cobra.Command{assignRoleCmd, unassignRoleCmd} {
		c.Flags().StringVar(&userID, "user", "", "user id")
		c.Flags().StringVar(&roleID, "role", "", "role id")
		c.Flags().StringVar(&orgID, "org", "", "organization id")
		_ = c.MarkFlagRequired("user")
		_ = c.MarkFlagRequired("role")
		_ = c.MarkFlagRequired("org")
	}
}

// withServices opens the service graph for one command and closes it after.
func withServices(cmd *cobra.Command, fn func(*app.Services) error) error {
	svc, err := app.NewServices(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark every active session past its expiry as expired",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *app.Services) error {
			n, err := svc.Authority.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions\n", n)
			return nil
		})
	},
}

var revokeSessionsCmd = &cobra.Command{
	Use:   "revoke-sessions",
	Short: "Revoke every active session of a user",
	Long: `Revoke every active session of a user.

Examples:
  dashboard-auth revoke-sessions --user 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *app.Services) error {
			n, err := svc.Authority.RevokeAllForUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
			return nil
		})
	},
}

var assignRoleCmd = &cobra.Command{
	Use:   "assign-role",
	Short: "Grant a role in an organization to a user",
	Long: `Grant a role in an organization to a user. Open sessions pick up the
new membership on their next request.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *app.Services) error {
			a, err := svc.Membership.Assign(cmd.Context(), membership.RoleAssignment{
				UserID:         userID,
				RoleID:         roleID,
				OrganizationID: orgID,
				AssignedBy:     "cli",
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %s (assignment %s)\n", roleID, a.ID)
			return nil
		})
	},
}

var unassignRoleCmd = &cobra.Command{
	Use:   "unassign-role",
	Short: "Deactivate a user's role in an organization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *app.Services) error {
			if err := svc.Membership.Deactivate(cmd.Context(), userID, roleID, orgID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", roleID)
			return nil
		})
	},
}

var createOrgCmd = &cobra.Command{
	Use:   "create-org",
	Short: "Create an organization with its owner role and first owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(svc *app.Services) error {
			org, owner, err := svc.Membership.CreateOrganization(cmd.Context(), orgName, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created organization %s (owner role %s)\n", org.ID, owner.RoleID)
			return nil
		})
	},
}
