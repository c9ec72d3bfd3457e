// Package mcp exposes the knowledge store over the Model Context
// Protocol on stdio.
//
// Each tool is a thin adapter: it validates and coerces the JSON-RPC
// arguments, calls into the repository, searcher, relations engine, or
// backfill worker, and renders the result as indented JSON. Domain
// errors map onto stable MCP error codes so clients can distinguish
// bad parameters, missing entries, archived entries, and an
// already-running backfill. Every mutating tool purges the search
// cache before returning.
package mcp
