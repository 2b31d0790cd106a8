// Command sensebridge serves one workspace's language server to code
// assistants over the Model Context Protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/sensebridge/internal/config"
)

var version = "dev"

const (
	transportStdio = "stdio"
	transportHTTP  = "http"

	defaultHTTPAddr = "127.0.0.1:8377"
)

// options holds the flags that are not configuration overrides.
type options struct {
	transport   string
	interceptIO bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sensebridge:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts       options
		configPath string
		workspace  string
		language   string
		logLevel   string
		httpAddr   string
		dir        string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "sensebridge [workspace]",
		Short: "Expose a language server to code assistants over MCP",
		Long: `sensebridge starts a language server for one workspace and serves two
MCP tools on top of it: find_things searches symbols across the workspace,
details resolves a loosely described symbol and reports its signature,
documentation, definition, implementations and references.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.transport != transportStdio && opts.transport != transportHTTP {
				return fmt.Errorf("unknown transport %q (want %s or %s)", opts.transport, transportStdio, transportHTTP)
			}

			var flags config.CLIFlags
			flagSet := cmd.Flags()
			if flagSet.Changed("config") {
				flags.ConfigPath = &configPath
			}
			if len(args) == 1 {
				workspace = args[0]
				flags.Workspace = &workspace
			} else if flagSet.Changed("workspace") {
				flags.Workspace = &workspace
			}
			if flagSet.Changed("language") {
				flags.Language = &language
			}
			if flagSet.Changed("log-level") {
				flags.LogLevel = &logLevel
			}
			if flagSet.Changed("http-addr") {
				flags.HTTPAddr = &httpAddr
			}
			if flagSet.Changed("transcript-dir") {
				flags.TranscriptDir = &dir
			}
			if flagSet.Changed("watch") {
				flags.Watch = &watch
			}

			cfg, path, err := config.LoadWithCLI(flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, path, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&workspace, "workspace", "w", "", "workspace root (default \".\")")
	f.StringVarP(&configPath, "config", "c", "", "YAML config file (default \""+config.DefaultConfigFile+"\")")
	f.StringVarP(&language, "language", "l", "", "workspace language: rust, go, python or typescript")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&opts.transport, "transport", transportStdio, "MCP transport: stdio or http")
	f.StringVar(&httpAddr, "http-addr", "", "serve /health, /metrics and /events (and /mcp with --transport http) on this address")
	f.StringVar(&dir, "transcript-dir", "", "record language server and MCP traffic into this directory")
	f.BoolVar(&opts.interceptIO, "intercept-io", false, "record traffic into <workspace>/.sensebridge/transcript unless --transcript-dir is set")
	f.BoolVar(&watch, "watch", false, "forward file system changes to the language server")
	return cmd
}
