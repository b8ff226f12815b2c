package mcp

import (
	"context"
	"io"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

const (
	ServerName    = "vsyncd"
	ServerVersion = "0.1.0"
)

// Daemon is the subset of the IPC client the tools use.
type Daemon interface {
	GetStatus() (*ipc.StatusData, error)
	ListConfigs(display int) (*ipc.ConfigsData, error)
	RequestConfig(p ipc.RequestConfigPayload) (*ipc.TimelineInfo, error)
	ConfigureCapture(p ipc.CapturePayload) (*ipc.CaptureData, error)
	TeardownCapture(p ipc.TeardownPayload) error
	SecureEvent(p ipc.SecureEventPayload) (*ipc.SecureEventData, error)
	SetPowerMode(p ipc.PowerModePayload) error
}

var _ Daemon = (*ipc.Client)(nil)

// Server exposes the daemon's control operations as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	daemon    Daemon
	logger    *slog.Logger
}

// NewServer creates an MCP server that forwards every tool call to daemon.
func NewServer(daemon Daemon, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{daemon: daemon, logger: logger}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "display_status",
		Description: "Report every display driven by vsyncd: active config and refresh rate, pending config change, power mode, frame counters, plus the capture block and secure-session state.",
	}, s.handleDisplayStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_configs",
		Description: "List the display configs (resolution, refresh rate, timing group) a display offers and the refresh rates allowed by its configured bounds.",
	}, s.handleListConfigs)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "request_active_config",
		Description: "Request a switch to another display config, by id or by refresh rate. Returns when the new config will be latched (refresh_time) and when its vsync period takes effect (apply_time). Set seamless_required to fail instead of doing a full mode set.",
	}, s.handleRequestActiveConfig)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "configure_capture",
		Description: "Claim the shared writeback block to capture a display's composed output into a buffer. Fails with resource_busy while another capture holds it and rejected_secure while protected content is on screen.",
	}, s.handleConfigureCapture)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "teardown_capture",
		Description: "Release a capture owned by the given client. The block becomes reusable once the frame that disables it has retired.",
	}, s.handleTeardownCapture)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "notify_secure_event",
		Description: "Report a protected-content session entering or exiting (display, camera or tui). Returns the displays whose next frame is forced to revalidate.",
	}, s.handleNotifySecureEvent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_power_mode",
		Description: "Queue a display power mode change (off, doze_suspend, doze, on). It is applied at the start of the next frame.",
	}, s.handleSetPowerMode)
}
