// Package main implements the memctl CLI for manual operations against the
// memoryd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the memoryd HTTP server
	serverURL string
	// userID scopes every operation to one memory owner
	userID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "CLI for memoryd HTTP server operations",
	Long: `memctl is a command-line interface for interacting with the memoryd HTTP
server. It provides commands for committing extracted memories, retrieving
recall context, reading paths, and checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9030", "memoryd server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "memory owner ID")
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(healthCmd)
}

// commitCmd sends an extraction payload from a file or stdin
var commitCmd = &cobra.Command{
	Use:   "commit [file]",
	Short: "Commit an extraction payload from a file or stdin",
	Long: `Commit a JSON extraction payload ({"memories": [...]}) to memoryd.

Examples:
  # Commit a payload file
  memctl commit extracted.json

  # Commit from stdin
  extractor --dialogue chat.txt | memctl commit -

  # Commit for a specific user
  memctl commit --user alice extracted.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCommit,
}

// retrieveCmd fetches ranked recall context for a query
var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve layered memory context for a query",
	Long: `Retrieve ranked memories and the layered prompt context for a query.

Examples:
  # Retrieve with the plan's default budget
  memctl retrieve "which language should replies use"

  # Retrieve more hits
  memctl retrieve --top-k 12 "deploy roadmap"`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

// readCmd reads the live records at one memory path
var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Read the live memory records at a path",
	Long: `Read and render the live records stored at one mory:// path.

Examples:
  memctl read mory://user_preference/language`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check memoryd server health",
	RunE:  runHealth,
}

var topK int

func init() {
	retrieveCmd.Flags().IntVar(&topK, "top-k", 0, "override the plan's hit budget")
}

// CommitRequest matches internal/http/types.go CommitRequest
type CommitRequest struct {
	UserID   string           `json:"user_id"`
	Memories []map[string]any `json:"memories,omitempty"`
	Source   string           `json:"source,omitempty"`
}

// RetrieveRequest matches internal/http/types.go RetrieveRequest
type RetrieveRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
}

// HealthResponse matches internal/http/types.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// postJSON sends a request body and returns the raw response body.
func postJSON(path string, reqBody any) ([]byte, error) {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s", serverURL, path)
	httpReq, err := http.NewRequest("POST", endpoint, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// runCommit handles the commit command
func runCommit(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var payload struct {
		Memories []map[string]any `json:"memories"`
	}
	if err := json.Unmarshal(content, &payload); err != nil {
		return fmt.Errorf("failed to parse extraction payload: %w", err)
	}
	if len(payload.Memories) == 0 {
		return fmt.Errorf("no memories in payload")
	}

	body, err := postJSON("/api/v1/commit", CommitRequest{
		UserID:   userID,
		Memories: payload.Memories,
		Source:   "memctl",
	})
	if err != nil {
		return err
	}

	var result struct {
		Accepted int `json:"accepted"`
		Skipped  int `json:"skipped"`
		Errors   int `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Accepted: %d\nSkipped:  %d\nErrors:   %d\n", result.Accepted, result.Skipped, result.Errors)
	return nil
}

// runRetrieve handles the retrieve command
func runRetrieve(cmd *cobra.Command, args []string) error {
	body, err := postJSON("/api/v1/retrieve", RetrieveRequest{
		UserID: userID,
		Query:  args[0],
		TopK:   topK,
	})
	if err != nil {
		return err
	}

	var result struct {
		PromptContext string `json:"prompt_context"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result.PromptContext == "" {
		fmt.Fprintln(os.Stderr, "[memctl] no matching memories")
		return nil
	}
	fmt.Println(result.PromptContext)
	return nil
}

// runRead handles the read command
func runRead(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/memories?user_id=%s&path=%s",
		serverURL, url.QueryEscape(userID), url.QueryEscape(args[0]))

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Path    string   `json:"path"`
		Records []string `json:"records"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Records) == 0 {
		fmt.Fprintf(os.Stderr, "[memctl] no live records at %s\n", result.Path)
		return nil
	}
	for i, record := range result.Records {
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Println(record)
	}
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", endpoint, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}
