// Command mcpproxy runs the session-scoped MCP proxy: it fronts one or more
// client transports (SSE, StreamableHTTP) with an HTTP server and relays
// each session to an upstream MCP server reached over stdio or HTTP.
package main

func main() {
	Execute()
}
