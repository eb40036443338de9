package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage user accounts",
		Long:    "Create, list and delete the accounts that own tables and sign in to the API. Admin users bypass table permissions.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  tables user create --email admin@example.com --admin
  tables user create --email ann@example.com --name Ann --password s3cret-pass`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, email, password, name, admin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant administrator rights")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(cmd *cobra.Command, email, password, name string, admin bool) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.auth.CreateUser(cmd.Context(), email, name, password, admin)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	kind := "user"
	if u.IsAdmin {
		kind = "admin user"
	}
	fmt.Printf("Created %s %q (id %d)\n", kind, u.Email, u.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			users, err := store.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, users)
			}
			if len(users) == 0 {
				fmt.Println("No users. Use 'tables user create --admin' to create one.")
				return nil
			}

			fmt.Printf("%-6s %-30s %-24s %-6s %-8s\n", "ID", "EMAIL", "NAME", "ADMIN", "ACTIVE")
			fmt.Printf("%-6s %-30s %-24s %-6s %-8s\n", "--", "-----", "----", "-----", "------")
			for _, u := range users {
				fmt.Printf("%-6d %-30s %-24s %-6s %-8s\n", u.ID, u.Email, u.Name, yesNo(u.IsAdmin), yesNo(u.IsActive))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id|email>",
		Aliases: []string{"rm"},
		Short:   "Delete a user with their API keys and table roles",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				u, lerr := store.GetUserByEmail(ctx, args[0])
				if lerr != nil {
					return fmt.Errorf("user %q: %w", args[0], lerr)
				}
				id = u.ID
			}
			if err := store.DeleteUser(ctx, id); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
			fmt.Printf("Deleted user %d\n", id)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
