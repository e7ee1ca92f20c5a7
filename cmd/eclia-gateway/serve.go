package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eclia/gateway/internal/approval"
	"github.com/eclia/gateway/internal/config"
	"github.com/eclia/gateway/internal/event"
	"github.com/eclia/gateway/internal/logging"
	"github.com/eclia/gateway/internal/orchestrator"
	"github.com/eclia/gateway/internal/provider"
	"github.com/eclia/gateway/internal/routeconfig"
	"github.com/eclia/gateway/internal/server"
	"github.com/eclia/gateway/internal/sessionlock"
	"github.com/eclia/gateway/internal/store"
	"github.com/eclia/gateway/internal/tool"
	"github.com/eclia/gateway/internal/toolhost"
	"github.com/eclia/gateway/pkg/types"

	"github.com/oklog/ulid/v2"
)

var (
	servePort     int
	serveRoot     string
	serveToolHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Gateway data root (defaults to the current directory)")
	serveCmd.Flags().StringVar(&serveToolHost, "exec-host-command", "", "Command (space-separated) that starts the exec tool host process; defaults to $ECLIA_EXEC_HOST_COMMAND")
}

func runServe(cmd *cobra.Command, args []string) error {
	root := serveRoot
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	logging.Info().Str("version", Version).Str("root", root).Msg("starting eclia-gateway")

	if err := os.MkdirAll(filepath.Join(root, ".eclia"), 0o755); err != nil {
		return fmt.Errorf("ensure root: %w", err)
	}

	gwCfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	gatewayToken, err := config.LoadGatewayToken(root)
	if err != nil {
		return fmt.Errorf("load gateway token: %w", err)
	}

	profilesPath := filepath.Join(root, ".eclia", "profiles.toml")
	routes, err := routeconfig.Load(profilesPath, types.ProviderOpenAICompat)
	if err != nil {
		return fmt.Errorf("load route profiles: %w", err)
	}

	st := store.New(root)
	locks := sessionlock.NewTable()
	bus := event.NewBus()
	providers := provider.NewDefaultRegistry()

	tools := tool.NewRegistry()
	tools.Register(buildExecTool(root, gwCfg, serveToolHost))
	tools.Register(&tool.SendTool{Adapters: gwCfg.AdapterTargets(), HTTP: &http.Client{Timeout: 20 * time.Second}})
	tools.Register(&tool.WebTool{
		Endpoint: gwCfg.WebSearch.Endpoint,
		APIKey:   gwCfg.WebSearch.APIKey,
		HTTP:     &http.Client{Timeout: 20 * time.Second},
	})

	// onEnqueue is nil: the orchestrator's tool loop already publishes
	// event.ApprovalRequired with the richer event.ApprovalRequiredData
	// shape right after Enqueue returns, so a second publish here would
	// double-fire the same logical event with a different payload shape.
	approvals := approval.New(func() string { return ulid.Make().String() }, nil)

	orch := orchestrator.New(root, st, locks, routes, providers, tools, approvals, bus)

	srvCfg := server.DefaultConfig()
	srvCfg.Port = servePort
	srvCfg.Root = root
	srvCfg.GatewayToken = gatewayToken

	srv := server.New(srvCfg, st, locks, approvals, orch)

	go func() {
		logging.Info().Int("port", servePort).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := routes.Reload(); err != nil {
				logging.Warn().Err(err).Msg("failed to reload route profiles")
			} else {
				logging.Info().Msg("reloaded route profiles")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("stopped")
	return nil
}

// buildExecTool wires the exec tool to its MCP stdio tool host, spawning the
// configured command. The host is started best-effort: a misconfigured or
// absent command degrades every exec call to ToolhostError rather than
// preventing the gateway from serving the rest of the API.
func buildExecTool(root string, gwCfg *config.Config, hostCommand string) *tool.ExecTool {
	if hostCommand == "" {
		hostCommand = os.Getenv("ECLIA_EXEC_HOST_COMMAND")
	}

	var host *toolhost.Client
	if hostCommand != "" {
		host = toolhost.New(strings.Fields(hostCommand), nil)
		if err := host.Start(context.Background()); err != nil {
			logging.Warn().Err(err).Str("command", hostCommand).Msg("failed to start exec tool host")
		}
	} else {
		logging.Warn().Msg("no exec tool host command configured; exec calls will fail")
	}

	mode := tool.AccessSafe
	return &tool.ExecTool{
		Host:  host,
		Rules: gwCfg.ExecAllowRules(),
		Root:  root,
		Mode:  func() tool.AccessMode { return mode },
	}
}
