package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vault",
	Short: "CredVault CLI",
	Long:  "A CLI for managing secrets, leases and dynamic credentials in CredVault.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(operatorCmd())
	rootCmd.AddCommand(kvCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(databaseCmd())
	rootCmd.AddCommand(leaseCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(loginCmd())
}

// --- operator ---

func operatorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "operator", Short: "Vault operator commands"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/sys/init", map[string]any{})
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Fprintln(os.Stderr, "Store the root key and root token now. They are not shown again.")
			printResult(result)
			return nil
		},
	}

	unsealCmd := &cobra.Command{
		Use:   "unseal [key]",
		Short: "Unseal the vault with the root key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) > 0 {
				key = args[0]
			} else {
				fmt.Print("Root Key (base64): ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				key = strings.TrimSpace(scanner.Text())
			}
			client := newClient()
			result, err := client.post("/v1/sys/unseal", map[string]any{"key": key})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	sealCmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.put("/v1/sys/seal", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show seal status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/seal-status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(initCmd, unsealCmd, sealCmd, statusCmd)
	return cmd
}

// --- kv ---

func kvCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "kv", Short: "Interact with the KV secret engine"}

	putCmd := &cobra.Command{
		Use:   "put <path> [key=value ...]",
		Short: "Write a secret",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data := map[string]any{}
			for _, kv := range args[1:] {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				data[parts[0]] = parts[1]
			}
			body := map[string]any{"data": data}
			if cas, _ := cmd.Flags().GetInt("cas"); cmd.Flags().Changed("cas") {
				body["options"] = map[string]any{"cas": cas}
			}
			client := newClient()
			result, err := client.post("/v1/secret/data/"+path, body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	putCmd.Flags().Int("cas", 0, "Write only if the current version matches (0 = path must not exist)")

	getCmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			version, _ := cmd.Flags().GetString("version")
			url := "/v1/secret/data/" + path
			if version != "" {
				url += "?version=" + version
			}
			client := newClient()
			result, err := client.get(url)
			if err != nil {
				printError(err.Error())
				return nil
			}
			// Extract the nested data
			if d, ok := result["data"].(map[string]any); ok {
				if inner, ok := d["data"].(map[string]any); ok {
					printResult(inner)
					return nil
				}
			}
			printResult(result)
			return nil
		},
	}
	getCmd.Flags().String("version", "", "Version to read (default: latest)")

	listCmd := &cobra.Command{
		Use:   "list <prefix>",
		Short: "List secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := args[0]
			client := newClient()
			result, err := client.list("/v1/secret/metadata/" + prefix)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				if keys, ok := d["keys"].([]any); ok {
					for _, k := range keys {
						fmt.Println(k)
					}
					return nil
				}
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Soft-delete secret versions (default: latest)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			versions, _ := cmd.Flags().GetIntSlice("versions")
			client := newClient()
			if len(versions) > 0 {
				if _, err := client.post("/v1/secret/delete/"+path, map[string]any{"versions": versions}); err != nil {
					printError(err.Error())
					return nil
				}
			} else if err := client.delete("/v1/secret/data/"+path, nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Data deleted.")
			return nil
		},
	}
	deleteCmd.Flags().IntSlice("versions", nil, "Versions to delete")

	undeleteCmd := &cobra.Command{
		Use:   "undelete <path>",
		Short: "Restore soft-deleted secret versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, _ := cmd.Flags().GetIntSlice("versions")
			if len(versions) == 0 {
				return fmt.Errorf("--versions is required")
			}
			client := newClient()
			if _, err := client.post("/v1/secret/undelete/"+args[0], map[string]any{"versions": versions}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Data restored.")
			return nil
		},
	}
	undeleteCmd.Flags().IntSlice("versions", nil, "Versions to undelete")

	destroyCmd := &cobra.Command{
		Use:   "destroy <path>",
		Short: "Permanently destroy secret versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, _ := cmd.Flags().GetIntSlice("versions")
			if len(versions) == 0 {
				return fmt.Errorf("--versions is required")
			}
			client := newClient()
			if _, err := client.post("/v1/secret/destroy/"+args[0], map[string]any{"versions": versions}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Data destroyed.")
			return nil
		},
	}
	destroyCmd.Flags().IntSlice("versions", nil, "Versions to destroy")

	metaCmd := &cobra.Command{Use: "metadata", Short: "Metadata subcommands"}
	metaGetCmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Get secret metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/secret/metadata/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	metaPutCmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Configure secret metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("max-versions") {
				v, _ := cmd.Flags().GetInt("max-versions")
				body["max_versions"] = v
			}
			if cmd.Flags().Changed("cas-required") {
				v, _ := cmd.Flags().GetBool("cas-required")
				body["cas_required"] = v
			}
			if v, _ := cmd.Flags().GetString("delete-version-after"); v != "" {
				body["delete_version_after"] = v
			}
			client := newClient()
			if _, err := client.post("/v1/secret/metadata/"+args[0], body); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Metadata written.")
			return nil
		},
	}
	metaPutCmd.Flags().Int("max-versions", 0, "Versions to retain (0 = unlimited)")
	metaPutCmd.Flags().Bool("cas-required", false, "Require check-and-set on writes")
	metaPutCmd.Flags().String("delete-version-after", "", "Soft-delete versions after this duration (e.g. 720h)")
	metaDeleteCmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete all versions and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/secret/metadata/"+args[0], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Metadata and all versions deleted.")
			return nil
		},
	}
	metaCmd.AddCommand(metaGetCmd, metaPutCmd, metaDeleteCmd)

	cmd.AddCommand(putCmd, getCmd, listCmd, deleteCmd, undeleteCmd, destroyCmd, metaCmd)
	return cmd
}

// --- policy ---

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage policies"}

	writeCmd := &cobra.Command{
		Use:   "write <name> <file>",
		Short: "Write a policy from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			data, err := os.ReadFile(args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			var body map[string]any
			if err := json.Unmarshal(data, &body); err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			if _, err := client.put("/v1/sys/policy/"+name, body); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Uploaded policy: " + name)
			return nil
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <name>",
		Short: "Read a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/policy/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/sys/policy/"+args[0], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Deleted policy: " + args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/sys/policy")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if policies, ok := result["policies"].([]any); ok {
				for _, p := range policies {
					fmt.Println(p)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(writeCmd, readCmd, deleteCmd, listCmd)
	return cmd
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Token management"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, _ := cmd.Flags().GetStringSlice("policy")
			ttl, _ := cmd.Flags().GetString("ttl")
			renewable, _ := cmd.Flags().GetBool("renewable")
			client := newClient()
			result, err := client.post("/v1/auth/token/create", map[string]any{
				"policies":  policies,
				"ttl":       ttl,
				"renewable": renewable,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if auth, ok := result["auth"].(map[string]any); ok {
				printResult(auth)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().StringSlice("policy", []string{"default"}, "Policies to attach")
	createCmd.Flags().String("ttl", "", "Token TTL (e.g. 24h)")
	createCmd.Flags().Bool("renewable", false, "Whether token is renewable")

	revokeCmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/v1/auth/token/revoke", map[string]any{"token": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Token revoked.")
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/token/lookup-self")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	renewCmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/auth/token/renew-self", map[string]any{})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if auth, ok := result["auth"].(map[string]any); ok {
				printResult(auth)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, revokeCmd, lookupCmd, renewCmd)
	return cmd
}

// --- database ---

func databaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "database", Short: "Dynamic database credentials"}

	configCmd := &cobra.Command{
		Use:   "config <name>",
		Short: "Configure a database connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType, _ := cmd.Flags().GetString("type")
			url, _ := cmd.Flags().GetString("connection-url")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			client := newClient()
			if _, err := client.post("/v1/database/config/"+args[0], map[string]any{
				"type":           dbType,
				"connection_url": url,
				"username":       username,
				"password":       password,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Configured connection: " + args[0])
			return nil
		},
	}
	configCmd.Flags().String("type", "postgres", "Database type: postgres, mysql")
	configCmd.Flags().String("connection-url", "", "DSN template with {{username}} and {{password}}")
	configCmd.Flags().String("username", "", "Admin username")
	configCmd.Flags().String("password", "", "Admin password")

	roleCmd := &cobra.Command{
		Use:   "role <name>",
		Short: "Configure a dynamic credential role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName, _ := cmd.Flags().GetString("db-name")
			creation, _ := cmd.Flags().GetStringArray("creation-statement")
			revocation, _ := cmd.Flags().GetStringArray("revocation-statement")
			defaultTTL, _ := cmd.Flags().GetString("default-ttl")
			maxTTL, _ := cmd.Flags().GetString("max-ttl")
			client := newClient()
			if _, err := client.post("/v1/database/roles/"+args[0], map[string]any{
				"db_name":               dbName,
				"creation_statements":   creation,
				"revocation_statements": revocation,
				"default_ttl":           defaultTTL,
				"max_ttl":               maxTTL,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Configured role: " + args[0])
			return nil
		},
	}
	roleCmd.Flags().String("db-name", "", "Connection name")
	roleCmd.Flags().StringArray("creation-statement", nil, "SQL run to create the principal ({{name}}, {{password}}, {{expiration}})")
	roleCmd.Flags().StringArray("revocation-statement", nil, "SQL run to drop the principal")
	roleCmd.Flags().String("default-ttl", "1h", "Default lease TTL")
	roleCmd.Flags().String("max-ttl", "24h", "Maximum lease TTL")

	credsCmd := &cobra.Command{
		Use:   "creds <role>",
		Short: "Generate credentials for a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := "/v1/database/creds/" + args[0]
			if ttl, _ := cmd.Flags().GetString("ttl"); ttl != "" {
				url += "?ttl=" + ttl
			}
			client := newClient()
			result, err := client.get(url)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	credsCmd.Flags().String("ttl", "", "Requested lease TTL (must not exceed the role max)")

	rotateRootCmd := &cobra.Command{
		Use:   "rotate-root <name>",
		Short: "Rotate the admin credential for a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/database/rotate-root/"+args[0], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Root credential rotated for: " + args[0])
			return nil
		},
	}

	staticRoleCmd := &cobra.Command{
		Use:   "static-role <name>",
		Short: "Configure a managed static role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName, _ := cmd.Flags().GetString("db-name")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			period, _ := cmd.Flags().GetString("rotation-period")
			statements, _ := cmd.Flags().GetStringArray("rotation-statement")
			client := newClient()
			if _, err := client.post("/v1/database/static-roles/"+args[0], map[string]any{
				"db_name":             dbName,
				"username":            username,
				"password":            password,
				"rotation_period":     period,
				"rotation_statements": statements,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Configured static role: " + args[0])
			return nil
		},
	}
	staticRoleCmd.Flags().String("db-name", "", "Connection name")
	staticRoleCmd.Flags().String("username", "", "Managed database account")
	staticRoleCmd.Flags().String("password", "", "Current password for the account")
	staticRoleCmd.Flags().String("rotation-period", "24h", "How often the password rotates")
	staticRoleCmd.Flags().StringArray("rotation-statement", nil, "SQL run to rotate the password")

	staticCredsCmd := &cobra.Command{
		Use:   "static-creds <name>",
		Short: "Read the current static role credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/database/static-creds/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	rotateRoleCmd := &cobra.Command{
		Use:   "rotate-role <name>",
		Short: "Rotate a static role password now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/database/rotate-role/"+args[0], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Rotated static role: " + args[0])
			return nil
		},
	}

	cmd.AddCommand(configCmd, roleCmd, credsCmd, rotateRootCmd, staticRoleCmd, staticCredsCmd, rotateRoleCmd)
	return cmd
}

// --- lease ---

func leaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lease", Short: "Lease management"}

	renewCmd := &cobra.Command{
		Use:   "renew <lease-id>",
		Short: "Renew a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			increment, _ := cmd.Flags().GetString("increment")
			client := newClient()
			result, err := client.put("/v1/sys/leases/renew", map[string]any{
				"lease_id":  args[0],
				"increment": increment,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	renewCmd.Flags().String("increment", "", "Requested extension (e.g. 1h)")

	revokeCmd := &cobra.Command{
		Use:   "revoke <lease-id>",
		Short: "Revoke a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.put("/v1/sys/leases/revoke", map[string]any{"lease_id": args[0]}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Lease revoked.")
			return nil
		},
	}

	revokePrefixCmd := &cobra.Command{
		Use:   "revoke-prefix <prefix>",
		Short: "Revoke every lease under a path prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.put("/v1/sys/leases/revoke-prefix/"+args[0], nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup <lease-id>",
		Short: "Look up a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.put("/v1/sys/leases/lookup", map[string]any{"lease_id": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(renewCmd, revokeCmd, revokePrefixCmd, lookupCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			limit, _ := cmd.Flags().GetInt("limit")
			url := "/v1/sys/audit-log?limit=" + strconv.Itoa(limit)
			if path != "" {
				url += "&path=" + path
			}
			client := newClient()
			result, err := client.get(url)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["data"].([]any); ok {
				for _, e := range entries {
					if m, ok := e.(map[string]any); ok {
						printResult(m)
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("path", "", "Filter by request path prefix")
	cmd.Flags().Int("limit", 20, "Maximum entries to return")
	return cmd
}

// --- login ---

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Save a token for subsequent commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) > 0 {
				token = args[0]
			} else {
				fmt.Print("Token: ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				token = strings.TrimSpace(scanner.Text())
			}
			if token == "" {
				return fmt.Errorf("token required")
			}
			cfg.Token = token
			if err := saveConfig(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Token saved to config.")
			printSuccess("Success! You are now authenticated.")
			return nil
		},
	}
}
