// Package main implements the semctl CLI for manual operations against the
// semanticd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the semanticd HTTP server
	serverURL string
	// scope is the agent scope sent with every request
	scope string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "semctl",
	Short: "CLI for semanticd HTTP server operations",
	Long: `semctl is a command-line interface for interacting with the semanticd
HTTP server. It provides commands for storing and retrieving memories,
recording decisions and checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "semanticd server URL")
	rootCmd.PersistentFlags().StringVar(&scope, "scope", "", "agent scope for the operation")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(decideCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check semanticd server health",
	Long: `Check the health status of the semanticd HTTP server.

Examples:
  # Check health
  semctl health

  # Check health on a different server
  semctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// storeCmd stores a memory from arguments or stdin
var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a memory in the given scope",
	Long: `Store a memory in the given scope. Content is taken from the
argument, or from stdin when the argument is omitted or "-".

Examples:
  # Store a fact
  semctl store --scope agent-a "the billing service runs on kubernetes"

  # Store from stdin
  cat notes.txt | semctl store --scope agent-a -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStore,
}

// retrieveCmd runs a hybrid retrieval query
var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve memories for a query",
	Long: `Run a hybrid retrieval query against the given scope and print the
scored results.

Examples:
  semctl retrieve --scope agent-a "how do we deploy billing"
  semctl retrieve --scope agent-a -k 3 "postgres pooling"`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

// consolidateCmd consolidates a conversation into an episode
var consolidateCmd = &cobra.Command{
	Use:   "consolidate <conversation-id>",
	Short: "Consolidate a buffered conversation into an episode",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsolidate,
}

// decideCmd records a decision
var decideCmd = &cobra.Command{
	Use:   "decide <action>",
	Short: "Record a decision for policy evaluation and tracking",
	Long: `Record a decision. The server evaluates the action against its
policy rules and either records it or rejects it.

Examples:
  semctl decide --scope agent-a --confidence 0.8 "run database migration"`,
	Args: cobra.ExactArgs(1),
	RunE: runDecide,
}

var (
	retrieveK  int
	reasoning  string
	confidence float64
	convID     string
)

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "limit", "k", 10, "maximum number of results")
	storeCmd.Flags().StringVar(&convID, "conversation", "", "conversation ID for short-term buffering")
	decideCmd.Flags().StringVar(&reasoning, "reasoning", "", "reasoning behind the decision")
	decideCmd.Flags().Float64Var(&confidence, "confidence", 0.5, "confidence in [0, 1]")
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server: %s\nStatus: %s\n", serverURL, health.Status)
	return nil
}

// runStore handles the store command
func runStore(cmd *cobra.Command, args []string) error {
	if scope == "" {
		return fmt.Errorf("--scope is required")
	}

	var content []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content = []byte(args[0])
	}

	if len(strings.TrimSpace(string(content))) == 0 {
		return fmt.Errorf("no content to store")
	}

	body := map[string]interface{}{
		"scope":   scope,
		"content": string(content),
	}
	if convID != "" {
		body["conversation_id"] = convID
	}

	var out map[string]interface{}
	if err := postJSON("/api/v1/store", body, &out); err != nil {
		return err
	}

	fmt.Printf("Stored memory %v in scope %s\n", out["id"], scope)
	return nil
}

// runRetrieve handles the retrieve command
func runRetrieve(cmd *cobra.Command, args []string) error {
	if scope == "" {
		return fmt.Errorf("--scope is required")
	}

	body := map[string]interface{}{
		"scope": scope,
		"query": args[0],
		"k":     retrieveK,
	}

	var out struct {
		Results []struct {
			ID      string  `json:"id"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
		Count int `json:"count"`
	}
	if err := postJSON("/api/v1/retrieve", body, &out); err != nil {
		return err
	}

	if out.Count == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, r := range out.Results {
		fmt.Printf("%d. [%.3f] %s\n   %s\n", i+1, r.Score, r.ID, r.Content)
	}
	return nil
}

// runConsolidate handles the consolidate command
func runConsolidate(cmd *cobra.Command, args []string) error {
	if scope == "" {
		return fmt.Errorf("--scope is required")
	}

	body := map[string]interface{}{
		"scope":           scope,
		"conversation_id": args[0],
	}

	var out map[string]interface{}
	if err := postJSON("/api/v1/consolidate", body, &out); err != nil {
		return err
	}

	fmt.Printf("Consolidated conversation %s into episode %v\n", args[0], out["id"])
	return nil
}

// runDecide handles the decide command
func runDecide(cmd *cobra.Command, args []string) error {
	if scope == "" {
		return fmt.Errorf("--scope is required")
	}

	body := map[string]interface{}{
		"scope":      scope,
		"action":     args[0],
		"reasoning":  reasoning,
		"confidence": confidence,
	}

	var out struct {
		Decision *struct {
			ID string `json:"id"`
		} `json:"decision"`
		Verdict struct {
			Effect string `json:"effect"`
			Reason string `json:"reason"`
		} `json:"verdict"`
	}
	if err := postJSON("/api/v1/decisions", body, &out); err != nil {
		return err
	}

	if out.Decision != nil {
		fmt.Printf("Recorded decision %s (effect: %s)\n", out.Decision.ID, out.Verdict.Effect)
	} else {
		fmt.Printf("Decision rejected (effect: %s, reason: %s)\n", out.Verdict.Effect, out.Verdict.Reason)
	}
	return nil
}

// postJSON posts a JSON body to the server and decodes the JSON response.
func postJSON(path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	target, err := url.JoinPath(serverURL, path)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(target, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
