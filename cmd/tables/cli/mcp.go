package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tmcp "github.com/grebion/tables/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes schemas, tables and
rows as tools and resources for AI agents.

In stdio mode the server speaks JSON-RPC over stdin/stdout, for desktop MCP
clients. In sse mode it listens on --addr for SSE connections. 'tables serve'
mounts the streamable HTTP transport at /mcp when mcp.enabled is set.`,
		Example: `  tables mcp                           # stdio mode
  tables mcp --transport sse --addr :3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.MCP.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.MCP.Addr = addr
			}

			// stdout carries the protocol in stdio mode, so logs go to stderr
			logger := newLogger(cfg.Logging, os.Stderr)
			a, err := openAppWith(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := tmcp.NewMCPServer(a.tables, a.transfer, versionString(), logger)
			switch cfg.MCP.Transport {
			case "", "stdio":
				return srv.ServeStdio()
			case "sse":
				logger.Info("starting MCP SSE server", "addr", cfg.MCP.Addr)
				return srv.ServeSSE(cfg.MCP.Addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'sse'", cfg.MCP.Transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or sse")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "Listen address (only used with --transport sse)")

	return cmd
}
