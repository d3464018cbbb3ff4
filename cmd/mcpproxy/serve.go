package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/eventstore"
	"github.com/viant/mcpproxy/httpfront"
	"github.com/viant/mcpproxy/metrics"
	"github.com/viant/mcpproxy/sessionmgr"
	"github.com/viant/mcpproxy/transport"
	httpserver "github.com/viant/mcpproxy/transport/server/http"
	"github.com/viant/mcpproxy/transport/server/http/sse"
	"github.com/viant/mcpproxy/transport/server/http/streamable"

	streamableclient "github.com/viant/mcpproxy/transport/client/http/streamable"
	"github.com/viant/mcpproxy/transport/client/stdio"
)

// shutdownGrace matches §6's 1 second grace period for a SIGINT-triggered
// shutdown.
const shutdownGrace = 1 * time.Second

func run(ctx context.Context) error {
	logger := jsonrpc.DefaultLogger

	reg := metrics.New("mcpproxy", "")
	reg.MustRegister(prometheus.DefaultRegisterer)

	dial, err := newDialer(logger)
	if err != nil {
		return err
	}

	mgr := sessionmgr.New(dial, sessionmgr.WithLogger(logger), sessionmgr.WithMetrics(reg))
	defer mgr.Stop()

	var sseHandler, streamHandler http.Handler
	switch flags.server {
	case "sse":
		sseHandler = sse.New(mgr.NewHandler, sse.WithURI(flags.sseEndpoint), sse.WithEventBuffer(eventstore.DefaultCapacity, eventstore.OverflowDropOldest))
	case "stream":
		streamHandler = streamable.New(mgr.NewHandler, streamable.WithURI(flags.streamEndpoint))
	case "both", "":
		sseHandler = sse.New(mgr.NewHandler, sse.WithURI(flags.sseEndpoint), sse.WithEventBuffer(eventstore.DefaultCapacity, eventstore.OverflowDropOldest))
		streamHandler = streamable.New(mgr.NewHandler, streamable.WithURI(flags.streamEndpoint))
	default:
		return fmt.Errorf("invalid --server %q: want sse, stream, or both", flags.server)
	}

	router := httpfront.New(httpfront.Config{
		SSEEndpoint:    flags.sseEndpoint,
		StreamEndpoint: flags.streamEndpoint,
		EnableProxy:    flags.enableProxy,
		DynamicProxy:   flags.dynamicProxy,
	}, sseHandler, streamHandler, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	srv := httpserver.NewServer(fmt.Sprintf(":%d", flags.port), mux)

	errCh := make(chan error, 1)
	go func() {
		if startErr := srv.Start(); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			errCh <- startErr
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Errorf("mcpproxy: shutting down on SIGINT")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newDialer builds the sessionmgr.Dialer for the configured upstream mode.
// In static mode the upstream is fixed at startup (--command/--args/--shell
// for a subprocess, or --upstreamURL for a remote MCP endpoint). In dynamic
// mode (--dynamicProxy) the upstream is read per session from the
// httpfront.UpstreamKey the Router stowed in ctx from the first request's
// "upstream" query parameter: an http(s) value dials a Remote Streamable
// HTTP upstream, anything else is run as a subprocess through a shell.
func newDialer(logger jsonrpc.Logger) (sessionmgr.Dialer, error) {
	if flags.dynamicProxy {
		return dynamicDialer(logger), nil
	}
	if flags.upstreamURL != "" {
		return remoteDialer(flags.upstreamURL, logger), nil
	}
	if flags.command == "" {
		return nil, errors.New("one of --command, --upstreamURL, or --dynamicProxy is required")
	}
	return subprocessDialer(flags.command, flags.args, flags.shell, flags.sshHost, logger), nil
}

// subprocessDialer builds the Subprocess Client Transport dialer. A non-empty
// sshHost runs --command on that host over SSH (the teacher's gosh
// runner/ssh path) instead of spawning it locally; secret resolution for the
// SSH connection is left to whoever embeds stdio.WithSecret directly; there
// is no CLI flag for it since scy's secret.Resource needs more structure
// than a single string can carry.
func subprocessDialer(command string, args []string, shell, sshHost string, logger jsonrpc.Logger) sessionmgr.Dialer {
	return func(ctx context.Context, handler transport.Handler) (sessionmgr.ClientTransport, error) {
		opts := []stdio.Option{
			stdio.WithArguments(args...),
			stdio.WithShell(shell),
			stdio.WithHandler(handler),
			stdio.WithLogger(logger),
		}
		if sshHost != "" {
			opts = append(opts, stdio.WithHost(sshHost))
		}
		return stdio.New(command, opts...)
	}
}

func remoteDialer(endpointURL string, logger jsonrpc.Logger) sessionmgr.Dialer {
	return func(ctx context.Context, handler transport.Handler) (sessionmgr.ClientTransport, error) {
		return streamableclient.New(ctx, endpointURL,
			streamableclient.WithHandler(handler),
		)
	}
}

// dynamicShell is used to invoke a dynamic-proxy subprocess upstream when
// --shell was left unset: the upstream string arrives as a whole command
// line (e.g. "python server.py"), and running it through a shell is the
// simplest way to let that line carry arguments without the proxy having to
// parse shell quoting itself.
const dynamicShell = "/bin/sh"

func dynamicDialer(logger jsonrpc.Logger) sessionmgr.Dialer {
	shell := flags.shell
	if shell == "" {
		shell = dynamicShell
	}
	return func(ctx context.Context, handler transport.Handler) (sessionmgr.ClientTransport, error) {
		upstream, _ := ctx.Value(httpfront.UpstreamKey).(string)
		if upstream == "" {
			return nil, errors.New("dynamic-proxy mode: no upstream chosen on first initialize")
		}
		if strings.HasPrefix(upstream, "http://") || strings.HasPrefix(upstream, "https://") {
			return streamableclient.New(ctx, upstream, streamableclient.WithHandler(handler))
		}
		return stdio.New(upstream, stdio.WithShell(shell), stdio.WithHandler(handler), stdio.WithLogger(logger))
	}
}
