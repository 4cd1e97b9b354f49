package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChayaSt/QCFractal/pkg/storage"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts directly against the database file",
	Long: `Manage QCFractal user accounts. These commands open the database
file directly, so they work without a running server; do not run them
against a database a server currently has open.`,
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME PASSWORD",
	Short: "Add a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		permissions, _ := cmd.Flags().GetStringSlice("permissions")

		socket, err := openUserSocket(cmd)
		if err != nil {
			return err
		}
		defer socket.Close()

		added, err := socket.AddUser(args[0], args[1], permissions)
		if err != nil {
			return fmt.Errorf("failed to add user: %w", err)
		}
		if !added {
			return fmt.Errorf("user %q already exists", args[0])
		}
		fmt.Printf("Added user %q with permissions %v\n", args[0], permissions)
		return nil
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove USERNAME",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		socket, err := openUserSocket(cmd)
		if err != nil {
			return err
		}
		defer socket.Close()

		removed, err := socket.RemoveUser(args[0])
		if err != nil {
			return fmt.Errorf("failed to remove user: %w", err)
		}
		if !removed {
			return fmt.Errorf("user %q does not exist", args[0])
		}
		fmt.Printf("Removed user %q\n", args[0])
		return nil
	},
}

var userVerifyCmd = &cobra.Command{
	Use:   "verify USERNAME PASSWORD PERMISSION",
	Short: "Check a credential against a required permission",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		socket, err := openUserSocket(cmd)
		if err != nil {
			return err
		}
		defer socket.Close()

		ok, reason, err := socket.VerifyUser(args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("failed to verify user: %w", err)
		}
		if !ok {
			return fmt.Errorf("verification failed: %s", reason)
		}
		fmt.Println(reason)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userRemoveCmd)
	userCmd.AddCommand(userVerifyCmd)

	userCmd.PersistentFlags().String("database-uri", "", "Database file path")
	userAddCmd.Flags().StringSlice("permissions", []string{"read"}, "Permissions: read, write, compute, queue, admin")
}

func openUserSocket(cmd *cobra.Command) (*storage.BoltSocket, error) {
	path, _ := cmd.Flags().GetString("database-uri")
	if path == "" {
		return nil, fmt.Errorf("--database-uri is required")
	}
	return storage.NewBoltSocket(storage.Config{Path: path})
}
