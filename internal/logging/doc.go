// Package logging wires log/slog to a size-rotated file under
// ~/.amansearch/logs and, optionally, to stderr.
//
// In MCP stdio mode stdout belongs to the JSON-RPC stream, so Setup is
// called with WriteToStderr disabled and a file path set.
package logging
