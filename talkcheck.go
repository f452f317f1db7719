// Package talkcheck is a conformance harness for signal-based
// receiver/sender program pairs.
package talkcheck

// Version is the harness version reported by the CLI and the MCP server.
const Version = "v0.1.0"
