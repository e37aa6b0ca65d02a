package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func init() {
	submitCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "base URL of a running partfinder API")
	queueCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "base URL of a running partfinder API")
}

// submitCmd posts a BOM file to a running API server.
var submitCmd = &cobra.Command{
	Use:   "submit <bom.json>",
	Short: "Submit a BOM file to the API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read BOM file: %w", err)
		}

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Post(serverURL+"/project", "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("submission rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			fmt.Println(string(body))
			return nil
		}
		fmt.Println(pretty.String())
		return nil
	},
}

// queueCmd prints the current queue length.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the number of queued projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(serverURL + "/project/queue/length")
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}

		var decoded struct {
			QueueLength int `json:"queue_length"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		fmt.Println(decoded.QueueLength)
		return nil
	},
}
