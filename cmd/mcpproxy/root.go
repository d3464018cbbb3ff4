package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flags mirrors the CLI surface §6 lists as affecting the core engine.
// Cobra owns parsing; viper owns the flag/env/config-file precedence chain
// the way Sentinel-Gate's loader does, so every flag below can also be set
// as MCPPROXY_<NAME> or from a --config file.
var flags struct {
	port           int
	sseEndpoint    string
	streamEndpoint string
	server         string
	dynamicProxy   bool
	enableProxy    bool
	command        string
	args           []string
	shell          string
	upstreamURL    string
	sshHost        string
	configFile     string
}

var rootCmd = &cobra.Command{
	Use:   "mcpproxy",
	Short: "Session-scoped MCP proxy bridging client transports to an upstream MCP server",
	Long: `mcpproxy fronts SSE and StreamableHTTP client transports with a single
HTTP server and relays each negotiated session to an upstream MCP server
reached over stdio (a subprocess) or HTTP (a remote MCP endpoint).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		bindFlags()
		return run(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&flags.port, "port", 8080, "port the HTTP front end listens on")
	pf.StringVar(&flags.sseEndpoint, "sseEndpoint", "/sse", "path the SSE transport is mounted on")
	pf.StringVar(&flags.streamEndpoint, "streamEndpoint", "/mcp", "path the StreamableHTTP transport is mounted on")
	pf.StringVar(&flags.server, "server", "both", "which server transport(s) to mount: sse, stream, or both")
	pf.BoolVar(&flags.dynamicProxy, "dynamicProxy", false, "choose the upstream per session from its first initialize, instead of a fixed upstream")
	pf.BoolVar(&flags.enableProxy, "enableProxy", false, "enable the ?target= opaque HTTP pass-through")
	pf.StringVar(&flags.command, "command", "", "subprocess command for the fixed stdio upstream")
	pf.StringArrayVar(&flags.args, "args", nil, "arguments for --command")
	pf.StringVar(&flags.shell, "shell", "", "shell to invoke --command through (e.g. /bin/sh); empty execs it directly")
	pf.StringVar(&flags.upstreamURL, "upstreamURL", "", "fixed remote MCP endpoint for a StreamableHTTP upstream, instead of --command")
	pf.StringVar(&flags.sshHost, "sshHost", "", "run --command over SSH on this host instead of locally")
	pf.StringVar(&flags.configFile, "config", "", "optional config file (yaml/json/toml) supplying any of the above")

	for _, name := range []string{"port", "sseEndpoint", "streamEndpoint", "server", "dynamicProxy", "enableProxy", "command", "args", "shell", "upstreamURL", "sshHost"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
	viper.SetEnvPrefix("MCPPROXY")
	viper.AutomaticEnv()
}

// bindFlags loads --config (if given) and lets viper's precedence chain
// (flag > env > config file > default) settle the final values back onto
// the package-level flags struct before run reads them.
func bindFlags() {
	if flags.configFile != "" {
		viper.SetConfigFile(flags.configFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "mcpproxy: config file %s: %v\n", flags.configFile, err)
		}
	}
	flags.port = viper.GetInt("port")
	flags.sseEndpoint = viper.GetString("sseEndpoint")
	flags.streamEndpoint = viper.GetString("streamEndpoint")
	flags.server = viper.GetString("server")
	flags.dynamicProxy = viper.GetBool("dynamicProxy")
	flags.enableProxy = viper.GetBool("enableProxy")
	if cmd := viper.GetString("command"); cmd != "" {
		flags.command = cmd
	}
	if args := viper.GetStringSlice("args"); len(args) > 0 {
		flags.args = args
	}
	if shell := viper.GetString("shell"); shell != "" {
		flags.shell = shell
	}
	if url := viper.GetString("upstreamURL"); url != "" {
		flags.upstreamURL = url
	}
	if host := viper.GetString("sshHost"); host != "" {
		flags.sshHost = host
	}
}

// Execute runs the root command; a non-nil error exits 1, matching §6's
// "1 fatal startup failure" exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpproxy:", err)
		os.Exit(1)
	}
}
