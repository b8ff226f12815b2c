package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

func (s *Server) handleDisplayStatus(_ context.Context, _ *mcpsdk.CallToolRequest, args DisplayStatusInput) (*mcpsdk.CallToolResult, DisplayStatusOutput, error) {
	status, err := s.daemon.GetStatus()
	if err != nil {
		return nil, DisplayStatusOutput{}, err
	}

	out := DisplayStatusOutput{
		UptimeSeconds: status.UptimeSeconds,
		Engine:        status.Engine,
		Capture:       status.Capture,
		Secure:        status.Secure,
		Displays:      status.Displays,
	}
	if args.Display != nil {
		out.Displays = nil
		for _, d := range status.Displays {
			if d.ID == *args.Display {
				out.Displays = append(out.Displays, d)
			}
		}
		if len(out.Displays) == 0 {
			return nil, DisplayStatusOutput{}, fmt.Errorf("no display %d", *args.Display)
		}
	}
	return nil, out, nil
}

func (s *Server) handleListConfigs(_ context.Context, _ *mcpsdk.CallToolRequest, args ListConfigsInput) (*mcpsdk.CallToolResult, ListConfigsOutput, error) {
	data, err := s.daemon.ListConfigs(args.Display)
	if err != nil {
		return nil, ListConfigsOutput{}, err
	}
	return nil, ListConfigsOutput{
		Display:        data.Display,
		Active:         data.Active,
		Configs:        data.Configs,
		SupportedRates: data.SupportedRates,
	}, nil
}

func (s *Server) handleRequestActiveConfig(_ context.Context, _ *mcpsdk.CallToolRequest, args RequestActiveConfigInput) (*mcpsdk.CallToolResult, RequestActiveConfigOutput, error) {
	if args.Config == nil && args.RefreshRate <= 0 {
		return nil, RequestActiveConfigOutput{}, fmt.Errorf("config or refresh_rate is required")
	}
	p := ipc.RequestConfigPayload{
		Display:          args.Display,
		Config:           args.Config,
		RefreshRate:      args.RefreshRate,
		SeamlessRequired: args.SeamlessRequired,
	}
	if args.DesiredTime != "" {
		t, err := time.Parse(time.RFC3339Nano, args.DesiredTime)
		if err != nil {
			return nil, RequestActiveConfigOutput{}, fmt.Errorf("desired_time: %w", err)
		}
		p.DesiredTime = t
	}

	tl, err := s.daemon.RequestConfig(p)
	if err != nil {
		return nil, RequestActiveConfigOutput{}, err
	}
	s.logger.Info("config requested", "display", args.Display, "seamless", tl.Seamless)
	return nil, RequestActiveConfigOutput{
		RefreshTime: tl.RefreshTime.Format(time.RFC3339Nano),
		ApplyTime:   tl.ApplyTime.Format(time.RFC3339Nano),
		Seamless:    tl.Seamless,
	}, nil
}

func (s *Server) handleConfigureCapture(_ context.Context, _ *mcpsdk.CallToolRequest, args ConfigureCaptureInput) (*mcpsdk.CallToolResult, ConfigureCaptureOutput, error) {
	if args.Client == "" {
		return nil, ConfigureCaptureOutput{}, fmt.Errorf("client is required")
	}
	data, err := s.daemon.ConfigureCapture(ipc.CapturePayload{
		Display:    args.Display,
		Client:     args.Client,
		Buffer:     args.Buffer,
		TapPoint:   args.TapPoint,
		FrameLimit: args.FrameLimit,
	})
	if err != nil {
		return nil, ConfigureCaptureOutput{}, err
	}
	return nil, ConfigureCaptureOutput{Session: data.Session}, nil
}

func (s *Server) handleTeardownCapture(_ context.Context, _ *mcpsdk.CallToolRequest, args TeardownCaptureInput) (*mcpsdk.CallToolResult, TeardownCaptureOutput, error) {
	if err := s.daemon.TeardownCapture(ipc.TeardownPayload{Display: args.Display, Client: args.Client}); err != nil {
		return nil, TeardownCaptureOutput{}, err
	}
	return nil, TeardownCaptureOutput{Released: true}, nil
}

func (s *Server) handleNotifySecureEvent(_ context.Context, _ *mcpsdk.CallToolRequest, args NotifySecureEventInput) (*mcpsdk.CallToolResult, NotifySecureEventOutput, error) {
	data, err := s.daemon.SecureEvent(ipc.SecureEventPayload{Kind: args.Kind, Entering: args.Entering})
	if err != nil {
		return nil, NotifySecureEventOutput{}, err
	}
	refreshed := data.Refreshed
	if refreshed == nil {
		refreshed = []int{}
	}
	return nil, NotifySecureEventOutput{Refreshed: refreshed}, nil
}

func (s *Server) handleSetPowerMode(_ context.Context, _ *mcpsdk.CallToolRequest, args SetPowerModeInput) (*mcpsdk.CallToolResult, SetPowerModeOutput, error) {
	if err := s.daemon.SetPowerMode(ipc.PowerModePayload{Display: args.Display, Mode: args.Mode}); err != nil {
		return nil, SetPowerModeOutput{}, err
	}
	return nil, SetPowerModeOutput{Queued: true}, nil
}
