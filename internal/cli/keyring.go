package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
	"github.com/JohnPlummer/jp-go-tenantclient/config"
)

func newKeyringCommand() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the token and tenant stored in the OS keyring",
	}
	cmd.PersistentFlags().StringVar(&service, "service", config.DefaultKeyringService, "Keyring service name")

	store := func() *tenantclient.KeyringStore {
		return tenantclient.NewKeyringStore(service)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-token <token>",
		Short: "Store the bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store().SetToken(args[0]); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token stored")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-tenant <tenant-id>",
		Short: "Store the tenant ID sent as X-Tenant-ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store().SetTenantID(args[0]); err != nil {
				return fmt.Errorf("storing tenant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant set to %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token and tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store().Clear(); err != nil {
				return fmt.Errorf("clearing keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "keyring cleared")
			return nil
		},
	})

	return cmd
}
