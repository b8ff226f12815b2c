package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/display"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/ipc"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/refresh"
	"github.com/1broseidon/vsyncd/internal/secure"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

var errInvalid = hwerr.ErrInvalidArgument

var _ ipc.Controller = (*Daemon)(nil)

// Status implements ipc.Controller.
func (d *Daemon) Status() ipc.StatusData {
	out := ipc.StatusData{
		UptimeSeconds: int64(d.clock().Sub(d.start).Seconds()),
		Engine:        string(d.Config().Engine),
		Capture:       ipc.CaptureInfo{Status: "unsupported"},
	}
	if d.wb != nil {
		s := d.wb.Snapshot()
		out.Capture = ipc.CaptureInfo{
			Status:         s.Status.String(),
			Display:        s.Display,
			FramesCaptured: s.FramesCaptured,
			FrameLimit:     s.FrameLimit,
		}
		if s.Status != writeback.StatusAvailable {
			out.Capture.Session = s.ID.String()
			out.Capture.Client = s.Client.String()
		}
	}
	gs := d.guard.Snapshot()
	out.Secure = ipc.SecureInfo{Active: gs.Active, TrustedUI: gs.TUI}

	for _, disp := range d.displays {
		out.Displays = append(out.Displays, displayInfo(disp.Snapshot()))
	}
	return out
}

func displayInfo(s display.Snapshot) ipc.DisplayInfo {
	info := ipc.DisplayInfo{
		ID:              s.ID,
		Name:            s.Name,
		Class:           s.Class.String(),
		Status:          s.Status.String(),
		Power:           s.Power,
		PendingPower:    s.PendingPower,
		ActiveConfig:    configInfo(s.Refresh.Active),
		VsyncPeriod:     s.Refresh.VsyncPeriod,
		Layers:          s.Layers,
		FrameState:      s.Frame.State,
		Frames:          s.Frame.Frames,
		SkippedPrepares: s.Frame.Skips,
		Flushes:         s.Frame.Flushes,
		ClientLayers:    s.Frame.ClientLayers,
		FirstCommitDone: s.Frame.FirstCommitDone,
		LiveFences:      s.Fences.Live,
		VsyncEnabled:    s.Vsync.Enabled,
		VsyncEvents:     s.Vsync.Events,
		IdleTimeout:     s.Idle.Timeout,
		Idle:            s.Idle.Idle,
		IdleSkips:       s.Idle.Skips,
		Error:           s.Error,
	}
	if p := s.Refresh.Pending; p != nil {
		info.PendingConfig = &ipc.PendingInfo{
			Target:   uint32(p.Target),
			Timeline: timelineInfo(p.Timeline),
		}
	}
	return info
}

func configInfo(c platform.DisplayConfig) ipc.ConfigInfo {
	return ipc.ConfigInfo{
		ID:          uint32(c.ID),
		Width:       c.Width,
		Height:      c.Height,
		RefreshRate: c.RefreshRate(),
		VsyncPeriod: c.VsyncPeriod,
		Group:       c.Group,
	}
}

func timelineInfo(t refresh.Timeline) ipc.TimelineInfo {
	return ipc.TimelineInfo{RefreshTime: t.RefreshTime, ApplyTime: t.ApplyTime, Seamless: t.Seamless}
}

// Configs implements ipc.Controller.
func (d *Daemon) Configs(id int) (ipc.ConfigsData, error) {
	disp, err := d.Display(id)
	if err != nil {
		return ipc.ConfigsData{}, err
	}
	out := ipc.ConfigsData{
		Display:        id,
		Active:         uint32(disp.ActiveConfig().ID),
		SupportedRates: disp.SupportedRefreshRates(),
	}
	for _, c := range disp.Configs() {
		out.Configs = append(out.Configs, configInfo(c))
	}
	return out, nil
}

// RequestConfig implements ipc.Controller.
func (d *Daemon) RequestConfig(p ipc.RequestConfigPayload) (ipc.TimelineInfo, error) {
	disp, err := d.Display(p.Display)
	if err != nil {
		return ipc.TimelineInfo{}, err
	}

	var target platform.ConfigID
	switch {
	case p.Config != nil:
		target = platform.ConfigID(*p.Config)
	case p.RefreshRate > 0:
		c, err := disp.ConfigForRate(p.RefreshRate)
		if err != nil {
			return ipc.TimelineInfo{}, err
		}
		target = c.ID
	default:
		return ipc.TimelineInfo{}, fmt.Errorf("%w: config or refresh_rate is required", errInvalid)
	}

	tl, err := disp.RequestActiveConfig(target, refresh.Constraints{
		DesiredTime:      p.DesiredTime,
		SeamlessRequired: p.SeamlessRequired,
	})
	if err != nil {
		return ipc.TimelineInfo{}, err
	}
	return timelineInfo(tl), nil
}

// ConfigureCapture implements ipc.Controller.
func (d *Daemon) ConfigureCapture(p ipc.CapturePayload) (ipc.CaptureData, error) {
	disp, err := d.Display(p.Display)
	if err != nil {
		return ipc.CaptureData{}, err
	}
	client, err := writeback.ParseClient(p.Client)
	if err != nil {
		return ipc.CaptureData{}, err
	}
	id, err := disp.ConfigureCapture(writeback.Request{
		Client:     client,
		Buffer:     p.Buffer,
		Config:     writeback.CaptureConfig{TapPoint: writeback.TapPoint(p.TapPoint)},
		FrameLimit: p.FrameLimit,
	})
	if err != nil {
		return ipc.CaptureData{}, err
	}
	return ipc.CaptureData{Session: id.String()}, nil
}

// TeardownCapture implements ipc.Controller.
func (d *Daemon) TeardownCapture(p ipc.TeardownPayload) error {
	disp, err := d.Display(p.Display)
	if err != nil {
		return err
	}
	client, err := writeback.ParseClient(p.Client)
	if err != nil {
		return err
	}
	return disp.TeardownCapture(client)
}

// SecureEvent implements ipc.Controller. The guard is shared, so the event
// is applied once through the first display that is still alive and every
// other live display is refreshed when the guard asks for it.
func (d *Daemon) SecureEvent(p ipc.SecureEventPayload) (ipc.SecureEventData, error) {
	kind, err := secure.ParseKind(p.Kind)
	if err != nil {
		return ipc.SecureEventData{}, err
	}

	var (
		owner *display.Display
		force bool
	)
	for _, disp := range d.displays {
		if disp.Lost() != nil {
			continue
		}
		force, err = disp.NotifySecureEvent(kind, p.Entering)
		if err != nil {
			return ipc.SecureEventData{}, err
		}
		owner = disp
		break
	}
	if owner == nil {
		return ipc.SecureEventData{}, fmt.Errorf("secure event: %w", hwerr.ErrTerminal)
	}

	out := ipc.SecureEventData{Refreshed: []int{}}
	if !force {
		return out, nil
	}
	for _, disp := range d.displays {
		if disp.Lost() != nil {
			continue
		}
		if disp != owner {
			disp.ForceRefresh()
		}
		out.Refreshed = append(out.Refreshed, disp.ID())
	}
	return out, nil
}

// SetPowerMode implements ipc.Controller.
func (d *Daemon) SetPowerMode(p ipc.PowerModePayload) error {
	disp, err := d.Display(p.Display)
	if err != nil {
		return err
	}
	mode, err := platform.ParsePowerMode(p.Mode)
	if err != nil {
		return err
	}
	return disp.SetPowerMode(mode)
}

// SetDisplayStatus implements ipc.Controller.
func (d *Daemon) SetDisplayStatus(p ipc.DisplayStatusPayload) error {
	disp, err := d.Display(p.Display)
	if err != nil {
		return err
	}
	status, err := display.ParseStatus(p.Status)
	if err != nil {
		return err
	}
	return disp.SetStatus(status)
}

// SetVsync implements ipc.Controller.
func (d *Daemon) SetVsync(p ipc.VsyncPayload) error {
	disp, err := d.Display(p.Display)
	if err != nil {
		return err
	}
	return disp.SetVsyncEnabled(p.Enabled)
}

// SetIdleTimeout implements ipc.Controller.
func (d *Daemon) SetIdleTimeout(p ipc.IdleTimeoutPayload) error {
	disp, err := d.Display(p.Display)
	if err != nil {
		return err
	}
	return disp.SetIdleTimeout(p.Timeout)
}

// Dump implements ipc.Controller.
func (d *Daemon) Dump(id *int) (string, error) {
	var buf bytes.Buffer
	targets := d.displays
	if id != nil {
		disp, err := d.Display(*id)
		if err != nil {
			return "", err
		}
		targets = []*display.Display{disp}
	}
	for i, disp := range targets {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if err := disp.Dump(&buf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Reload implements ipc.Controller. Log level and journal settings apply
// immediately; display and engine changes need a restart.
func (d *Daemon) Reload() error {
	var (
		res *config.LoadResult
		err error
	)
	if d.configPath != "" {
		res, err = config.LoadFromPath(d.configPath)
	} else {
		res, err = config.LoadWithSources()
	}
	if err != nil {
		return fmt.Errorf("%w: reload config: %v", errInvalid, err)
	}
	next := res.Config

	d.cfgMu.Lock()
	prev := d.cfg
	d.cfg = next
	d.cfgMu.Unlock()

	if d.logLevel != nil {
		d.logLevel.Set(next.SlogLevel())
	}
	if prev.Journal != next.Journal {
		if err := d.journal.Reconfigure(next.JournalSettings()); err != nil {
			return err
		}
	}
	if prev.Engine != next.Engine || !reflect.DeepEqual(prev.Displays, next.Displays) ||
		prev.Writeback != next.Writeback || prev.Driver != next.Driver {
		d.logger.Warn("display, engine or driver settings changed; restart the daemon to apply them")
	}
	d.logger.Info("config reloaded", "files", len(res.Files))
	return nil
}

// IsTerminal reports whether err means a display is gone for good.
func IsTerminal(err error) bool {
	return errors.Is(err, hwerr.ErrTerminal)
}
