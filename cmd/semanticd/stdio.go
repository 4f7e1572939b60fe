package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/agentctx"
	"github.com/fyrsmithlabs/semanticd/internal/mcp"
)

// runStdioServer starts the MCP server on stdio for direct agent
// integration. It serves the same agent context the HTTP daemon would;
// a single process runs one transport or the other. Two instances must
// not share a data directory, so launchers that need both transports
// should point the stdio instance at the HTTP API instead.
func runStdioServer(ctx context.Context, agent *agentctx.AgentContext, logger *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "semanticd",
		Version: version,
		Logger:  logger,
	}, agent)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Log startup to stderr; stdout carries the MCP protocol.
	fmt.Fprintln(os.Stderr, "semanticd MCP server started on stdio")

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("stdio server error: %w", err)
	}

	logger.Info("MCP stdio server shutdown complete")
	return nil
}
