package mcp

import "github.com/1broseidon/vsyncd/internal/ipc"

// DisplayStatusInput is the input for the display_status tool.
type DisplayStatusInput struct {
	Display *int `json:"display,omitempty" jsonschema:"Only report this display id (default: all displays)"`
}

// DisplayStatusOutput is the output for the display_status tool.
type DisplayStatusOutput struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	Engine        string            `json:"engine"`
	Capture       ipc.CaptureInfo   `json:"capture"`
	Secure        ipc.SecureInfo    `json:"secure"`
	Displays      []ipc.DisplayInfo `json:"displays"`
}

// ListConfigsInput is the input for the list_configs tool.
type ListConfigsInput struct {
	Display int `json:"display" jsonschema:"Display id"`
}

// ListConfigsOutput is the output for the list_configs tool.
type ListConfigsOutput struct {
	Display        int              `json:"display"`
	Active         uint32           `json:"active"`
	Configs        []ipc.ConfigInfo `json:"configs"`
	SupportedRates []float64        `json:"supported_rates"`
}

// RequestActiveConfigInput is the input for the request_active_config tool.
type RequestActiveConfigInput struct {
	Display          int     `json:"display" jsonschema:"Display id"`
	Config           *uint32 `json:"config,omitempty" jsonschema:"Target config id. Either config or refresh_rate is needed."`
	RefreshRate      float64 `json:"refresh_rate,omitempty" jsonschema:"Target refresh rate in Hz; the closest config at the current resolution is used"`
	DesiredTime      string  `json:"desired_time,omitempty" jsonschema:"RFC 3339 time the new period should take effect by (default: as soon as possible)"`
	SeamlessRequired bool    `json:"seamless_required,omitempty" jsonschema:"Fail with seamless_not_allowed rather than doing a full mode set"`
}

// RequestActiveConfigOutput is the output for the request_active_config tool.
type RequestActiveConfigOutput struct {
	RefreshTime string `json:"refresh_time"`
	ApplyTime   string `json:"apply_time"`
	Seamless    bool   `json:"seamless"`
}

// ConfigureCaptureInput is the input for the configure_capture tool.
type ConfigureCaptureInput struct {
	Display    int    `json:"display" jsonschema:"Display id to capture"`
	Client     string `json:"client" jsonschema:"Capture client: frame_dump, color, external or composer"`
	Buffer     uint64 `json:"buffer" jsonschema:"Destination buffer handle"`
	TapPoint   string `json:"tap_point,omitempty" jsonschema:"Pipeline tap point: mixer, dspp or demura (default: mixer)"`
	FrameLimit int    `json:"frame_limit,omitempty" jsonschema:"Tear the capture down after this many frames (default: until teardown_capture)"`
}

// ConfigureCaptureOutput is the output for the configure_capture tool.
type ConfigureCaptureOutput struct {
	Session string `json:"session"`
}

// TeardownCaptureInput is the input for the teardown_capture tool.
type TeardownCaptureInput struct {
	Display int    `json:"display" jsonschema:"Display id"`
	Client  string `json:"client" jsonschema:"Client that owns the capture"`
}

// TeardownCaptureOutput is the output for the teardown_capture tool.
type TeardownCaptureOutput struct {
	Released bool `json:"released"`
}

// NotifySecureEventInput is the input for the notify_secure_event tool.
type NotifySecureEventInput struct {
	Kind     string `json:"kind" jsonschema:"Session kind: display, camera or tui"`
	Entering bool   `json:"entering" jsonschema:"True when the session starts, false when it ends"`
}

// NotifySecureEventOutput is the output for the notify_secure_event tool.
type NotifySecureEventOutput struct {
	Refreshed []int `json:"refreshed"`
}

// SetPowerModeInput is the input for the set_power_mode tool.
type SetPowerModeInput struct {
	Display int    `json:"display" jsonschema:"Display id"`
	Mode    string `json:"mode" jsonschema:"off, doze_suspend, doze or on"`
}

// SetPowerModeOutput is the output for the set_power_mode tool.
type SetPowerModeOutput struct {
	Queued bool `json:"queued"`
}
