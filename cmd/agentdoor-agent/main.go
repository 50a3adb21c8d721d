// Command agentdoor-agent is the command-line exerciser for the
// agentclient SDK: it registers an agent with a service, fetches tokens,
// and makes authenticated calls through it.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/0xaron/agentdoor/pkg/agentclient"
)

var version = "dev"

var (
	serviceURL string
	serviceTag string
	agentName  string
	passphrase string
	cfgFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentdoor-agent",
	Short: "AgentDoor CLI exerciser",
	Long: `agentdoor-agent is the command-line interface for the AgentDoor
authentication protocol.

It registers an agent identity with a service, fetches bearer tokens, and
makes authenticated calls against protected routes.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.agentdoor")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serviceURL == "" {
			serviceURL = viper.GetString("service_url")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.agentdoor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "AgentDoor service base URL")
	rootCmd.PersistentFlags().StringVar(&serviceTag, "tag", "agentdoor", "Well-known discovery tag")
	rootCmd.PersistentFlags().StringVar(&agentName, "name", "agentdoor-cli", "Agent name presented at registration")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "Passphrase encrypting the stored secret key at rest (optional)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(versionCmd)
}

func newAgent(ctx context.Context) (*agentclient.Agent, error) {
	if serviceURL == "" {
		return nil, fmt.Errorf("--service is required (or set service_url in config)")
	}

	opts := []agentclient.Option{
		agentclient.WithServiceTag(serviceTag),
		agentclient.WithAgentName(agentName),
		// An empty passphrase still selects the file store, in plaintext.
		agentclient.WithFilePassphrase(passphrase),
	}

	a, err := agentclient.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}
	if err := a.Connect(ctx, serviceURL); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serviceURL, err)
	}
	return a, nil
}

// ── register ─────────────────────────────────────────────────────────────────

var registerScopes []string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this agent identity with a service",
	Long: `register performs the full challenge-response enrollment flow: it
generates a keypair, requests a challenge, signs it, and stores the
resulting agent_id and api_key locally.

Calling register again for the same service is idempotent: the stored
credential is returned unchanged, and --scopes is ignored on repeat calls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		cred, err := a.Register(ctx, registerScopes...)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}

		fmt.Printf("✓ Agent registered\n\n")
		fmt.Printf("  Agent ID: %s\n", cred.AgentID)
		fmt.Printf("  Scopes:   %s\n\n", strings.Join(cred.Scopes, ", "))
		fmt.Println("Next: agentdoor-agent auth to fetch a bearer token")
		return nil
	},
}

func init() {
	registerCmd.Flags().StringSliceVar(&registerScopes, "scopes", nil, "Scopes requested at registration")
}

// ── auth ─────────────────────────────────────────────────────────────────────

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Fetch (or reuse) a bearer token for this agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		token, err := a.Authenticate(ctx)
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		fmt.Printf("Token: %s\n", token)
		return nil
	},
}

// ── call ─────────────────────────────────────────────────────────────────────

var callMethod string

var callCmd = &cobra.Command{
	Use:   "call <path>",
	Short: "Make an authenticated request against a protected route",
	Long: `call sends an HTTP request through the agent's Do method, which
transparently authenticates and retries once on a 401.

Example:

  agentdoor-agent call /demo/whoami`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		ctx := context.Background()
		a, err := newAgent(ctx)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		resp, err := a.Do(ctx, callMethod, path, nil)
		if err != nil {
			return fmt.Errorf("call %s %s: %w", callMethod, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		fmt.Printf("%d %s\n\n", resp.StatusCode, http.StatusText(resp.StatusCode))
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	callCmd.Flags().StringVar(&callMethod, "method", http.MethodGet, "HTTP method")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentdoor-agent CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentdoor-agent %s\n", version)
	},
}
