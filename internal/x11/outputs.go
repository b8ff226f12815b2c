package x11

import (
	"fmt"
	"time"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// Mode is one RandR mode line.
type Mode struct {
	ID       uint32
	Name     string
	Width    uint16
	Height   uint16
	DotClock uint32
	Htotal   uint16
	Vtotal   uint16
	Flags    uint32
}

// VsyncPeriod derives the frame interval from the mode timings.
func (m Mode) VsyncPeriod() time.Duration {
	vtotal := uint64(m.Vtotal)
	if m.Flags&randr.ModeFlagDoubleScan != 0 {
		vtotal *= 2
	}
	if m.DotClock == 0 || m.Htotal == 0 || vtotal == 0 {
		return 0
	}
	ns := uint64(m.Htotal) * vtotal * uint64(time.Second) / uint64(m.DotClock)
	if m.Flags&randr.ModeFlagInterlace != 0 {
		ns /= 2
	}
	return time.Duration(ns)
}

// Output is a connected RandR output and the CRTC driving it.
type Output struct {
	ID         randr.Output
	Name       string
	Crtc       randr.Crtc
	X, Y       int16
	Rotation   uint16
	ActiveMode uint32
	Modes      []Mode
}

// Outputs lists connected outputs with their modes.
func (c *Connection) Outputs() ([]Output, error) {
	conn := c.XUtil.Conn()

	resources, err := randr.GetScreenResources(conn, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	modes := make(map[uint32]Mode, len(resources.Modes))
	names := resources.Names
	for _, info := range resources.Modes {
		name := ""
		if int(info.NameLen) <= len(names) {
			name = string(names[:info.NameLen])
			names = names[info.NameLen:]
		}
		modes[info.Id] = Mode{
			ID:       info.Id,
			Name:     name,
			Width:    info.Width,
			Height:   info.Height,
			DotClock: info.DotClock,
			Htotal:   info.Htotal,
			Vtotal:   info.Vtotal,
			Flags:    info.ModeFlags,
		}
	}

	var outputs []Output
	for _, id := range resources.Outputs {
		info, err := randr.GetOutputInfo(conn, id, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}

		out := Output{
			ID:   id,
			Name: string(info.Name),
			Crtc: info.Crtc,
		}
		for _, m := range info.Modes {
			if mode, ok := modes[uint32(m)]; ok {
				out.Modes = append(out.Modes, mode)
			}
		}

		crtc, err := randr.GetCrtcInfo(conn, info.Crtc, resources.ConfigTimestamp).Reply()
		if err == nil {
			out.X = crtc.X
			out.Y = crtc.Y
			out.Rotation = crtc.Rotation
			out.ActiveMode = uint32(crtc.Mode)
		}
		outputs = append(outputs, out)
	}

	return outputs, nil
}

// SetMode programs out's CRTC with mode, keeping position and rotation.
func (c *Connection) SetMode(out Output, mode uint32) error {
	conn := c.XUtil.Conn()

	resources, err := randr.GetScreenResources(conn, c.Root).Reply()
	if err != nil {
		return fmt.Errorf("failed to get screen resources: %w", err)
	}

	reply, err := randr.SetCrtcConfig(conn, out.Crtc,
		xproto.TimeCurrentTime, resources.ConfigTimestamp,
		out.X, out.Y, randr.Mode(mode), out.Rotation,
		[]randr.Output{out.ID},
	).Reply()
	if err != nil {
		return fmt.Errorf("set crtc config: %w", err)
	}
	if reply.Status != randr.SetConfigSuccess {
		return fmt.Errorf("set crtc config: status %d", reply.Status)
	}
	return nil
}
