package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys users authenticate with through the X-API-Key header.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		user    string
		label   string
		expires string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a user",
		Long:  "Generate a new API key acting as a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  tables key create --user admin@example.com --label "CI pipeline"
  tables key create --user 3 --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd, user, label, expires)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User id or email the key acts as (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&expires, "expires", "", "Lifetime of the key, e.g. 720h (default: never)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(cmd *cobra.Command, user, label, expires string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		u, lerr := a.store.GetUserByEmail(ctx, user)
		if lerr != nil {
			return fmt.Errorf("user %q: %w", user, lerr)
		}
		userID = u.ID
	}

	var expiresAt *time.Time
	if expires != "" {
		d, err := time.ParseDuration(expires)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --expires %q", expires)
		}
		t := time.Now().Add(d).UTC()
		expiresAt = &t
	}

	raw, key, err := a.auth.CreateAPIKey(ctx, userID, label, expiresAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", raw)
	fmt.Printf("  User:    %d\n", key.UserID)
	if label != "" {
		fmt.Printf("  Label:   %s\n", label)
	}
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			keys, err := store.ListAPIKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, keys)
			}
			if len(keys) == 0 {
				fmt.Println("No API keys configured. Use 'tables key create' to create one.")
				return nil
			}

			fmt.Printf("%-16s %-8s %-24s %-8s %-20s\n", "PREFIX", "USER", "LABEL", "ACTIVE", "LAST USED")
			fmt.Printf("%-16s %-8s %-24s %-8s %-20s\n", "------", "----", "-----", "------", "---------")
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsed != nil {
					lastUsed = k.LastUsed.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-16s %-8d %-24s %-8s %-20s\n", k.KeyPrefix, k.UserID, k.Label, yesNo(k.IsActive), lastUsed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			if err := store.RevokeAPIKeyByPrefix(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("revoke api key %q: %w", args[0], err)
			}
			fmt.Printf("Revoked API key %s\n", args[0])
			return nil
		},
	}
}
