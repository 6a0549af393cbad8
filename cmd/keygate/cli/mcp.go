package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/keygate/keygate/internal/mcp"
	"github.com/keygate/keygate/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		readOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for key administration",
		Long: `Start a Model Context Protocol (MCP) server that exposes key administration
as tools: list, inspect, verify, issue and revoke keys, and attach metadata.
It talks to the same store as 'keygate serve'.

In stdio mode the server speaks JSON-RPC over stdin/stdout and logs to stderr.
In HTTP mode it listens on the given port using Streamable HTTP.`,
		Example: `  keygate mcp                              # stdio mode
  keygate mcp --read-only                  # list, get and verify only
  keygate mcp --transport http --port 3001 # Streamable HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, readOnly)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Register only tools that do not change keys")

	return cmd
}

func runMCP(transport string, port int, readOnly bool) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	cfg := loadConfig()
	logger := newLogger(cfg, os.Stderr, false)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := newKeyService(cfg, store, logger)
	if err != nil {
		return err
	}
	verifier := service.NewVerifier(store, nil)

	srv := kmcp.NewMCPServer(keys, verifier, kmcp.Options{Version: versionString(), ReadOnly: readOnly}, logger)
	if transport == "http" {
		return srv.ServeHTTP(fmt.Sprintf(":%d", port))
	}
	return srv.ServeStdio()
}
