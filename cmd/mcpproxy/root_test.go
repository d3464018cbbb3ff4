package main

import (
	"testing"

	jsonrpc "github.com/viant/mcpproxy"

	"github.com/stretchr/testify/assert"
)

func resetFlags() {
	flags.port = 8080
	flags.sseEndpoint = "/sse"
	flags.streamEndpoint = "/mcp"
	flags.server = "both"
	flags.dynamicProxy = false
	flags.enableProxy = false
	flags.command = ""
	flags.args = nil
	flags.shell = ""
	flags.upstreamURL = ""
}

func TestNewDialer_RequiresAnUpstreamInStaticMode(t *testing.T) {
	resetFlags()
	defer resetFlags()

	_, err := newDialer(jsonrpc.DefaultLogger)
	assert.Error(t, err)
}

func TestNewDialer_PicksSubprocessWhenCommandSet(t *testing.T) {
	resetFlags()
	defer resetFlags()
	flags.command = "python"
	flags.args = []string{"server.py"}

	dial, err := newDialer(jsonrpc.DefaultLogger)
	assert.NoError(t, err)
	assert.NotNil(t, dial)
}

func TestNewDialer_PicksRemoteWhenUpstreamURLSet(t *testing.T) {
	resetFlags()
	defer resetFlags()
	flags.upstreamURL = "https://upstream.example.com/mcp"

	dial, err := newDialer(jsonrpc.DefaultLogger)
	assert.NoError(t, err)
	assert.NotNil(t, dial)
}

func TestNewDialer_DynamicModeNeverErrorsUpFront(t *testing.T) {
	resetFlags()
	defer resetFlags()
	flags.dynamicProxy = true
	flags.command = ""
	flags.upstreamURL = ""

	dial, err := newDialer(jsonrpc.DefaultLogger)
	assert.NoError(t, err)
	assert.NotNil(t, dial)
}
