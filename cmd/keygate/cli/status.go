package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a keygate server is ready",
		Long:  "Query the readiness endpoint of a running server and report the store and rate limiter state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg := loadConfig()
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				addr = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
			}
			return runStatus(cmd.OutOrStdout(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default from server.host and server.port)")

	return cmd
}

func runStatus(out io.Writer, addr string) error {
	readyURL := addr + "/readyz"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyURL)
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode readiness response: %w", err)
	}

	fmt.Fprintf(out, "Server at %s is %s (%d)\n", addr, body.Status, resp.StatusCode)
	names := make([]string, 0, len(body.Checks))
	for name := range body.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name+":", body.Checks[name])
	}
	return nil
}
