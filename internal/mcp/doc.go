// Package mcp exposes the coordination layer to agents as MCP tools
// over the stdio transport.
//
// The fixed engine contracts (jj_status, jj_log, jj_diff) return the
// JSON shapes agents script against. The remaining tools cover the
// session lifecycle, gated command execution through the hook
// coordinator, operation-log and conflict queries, classification
// previews, and learning statistics. Handlers call the internal
// packages directly; there is no transport between the tool surface
// and the coordinator.
package mcp
