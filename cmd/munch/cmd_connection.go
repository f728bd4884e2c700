package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/munch/internal/mcp"
	"github.com/user/munch/internal/types"
)

func init() {
	rootCmd.AddCommand(statusCmd, connectCmd, toolsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tool service connection status of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		var state mcp.State
		if err := apiGet(cfg.HTTP.Listen, "/api/status", &state); err != nil {
			return fmt.Errorf("query server (is munch serve running?): %w", err)
		}

		switch {
		case state.Connected:
			fmt.Printf("Connected (%d tools)\n", state.ToolCount)
		case state.Connecting:
			fmt.Println("Connecting...")
			if state.AuthURL != "" {
				fmt.Printf("Authorize at: %s\n", state.AuthURL)
			}
		case state.Error != "":
			fmt.Printf("Error: %s\n", state.Error)
		default:
			fmt.Println("Disconnected")
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a running server to the tool service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		timeout := time.Duration(cfg.MCP.AuthTimeoutSecs) * time.Second

		fmt.Println("Connecting... if authorization is needed, a URL will be printed by the server log and the status command.")

		var res mcp.ConnectResult
		if err := apiPost(cfg.HTTP.Listen, "/api/connect", timeout, &res); err != nil {
			return fmt.Errorf("query server (is munch serve running?): %w", err)
		}

		switch {
		case res.Success:
			fmt.Printf("Connected (%d tools)\n", len(res.Tools))
		case res.Connecting:
			fmt.Println("A connection attempt is already in progress.")
			if res.AuthURL != "" {
				fmt.Printf("Authorize at: %s\n", res.AuthURL)
			}
		default:
			fmt.Printf("Failed: %s\n", res.Error)
			if res.AuthURL != "" {
				fmt.Printf("Authorize at: %s\n", res.AuthURL)
			}
			if res.Help != "" {
				fmt.Println(res.Help)
			}
		}
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the discovered tool catalog of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		var resp struct {
			Connected bool             `json:"connected"`
			Tools     []types.ToolInfo `json:"tools"`
		}
		if err := apiGet(cfg.HTTP.Listen, "/api/tools", &resp); err != nil {
			return fmt.Errorf("query server (is munch serve running?): %w", err)
		}

		if !resp.Connected {
			fmt.Println("Not connected. Connect from the web UI first.")
			return nil
		}
		if len(resp.Tools) == 0 {
			fmt.Println("No tools discovered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, t := range resp.Tools {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, oneLine(t.Description))
		}
		return w.Flush()
	},
}

// apiGet queries the local server's JSON API using the configured listen
// address.
func apiGet(listen, path string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(localURL(listen, path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiPost posts to the local server's JSON API. The connect endpoint blocks
// for the whole handshake, so the timeout must cover the authorization wait.
// Non-200 statuses still carry a decodable result body.
func apiPost(listen, path string, timeout time.Duration, out any) error {
	client := &http.Client{Timeout: timeout + 10*time.Second}
	resp, err := client.Post(localURL(listen, path), "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func localURL(listen, path string) string {
	addr := listen
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + path
}

// oneLine collapses a multi-line description for tabular output.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
