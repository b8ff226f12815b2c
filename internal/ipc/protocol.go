package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/1broseidon/vsyncd/internal/hwerr"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload           CommandType = "RELOAD"
	CommandGetStatus        CommandType = "GET_STATUS"
	CommandListConfigs      CommandType = "LIST_CONFIGS"
	CommandRequestConfig    CommandType = "REQUEST_CONFIG"
	CommandConfigureCapture CommandType = "CONFIGURE_CAPTURE"
	CommandTeardownCapture  CommandType = "TEARDOWN_CAPTURE"
	CommandSecureEvent      CommandType = "SECURE_EVENT"
	CommandSetPowerMode     CommandType = "SET_POWER_MODE"
	CommandSetDisplayStatus CommandType = "SET_DISPLAY_STATUS"
	CommandSetVsync         CommandType = "SET_VSYNC"
	CommandSetIdleTimeout   CommandType = "SET_IDLE_TIMEOUT"
	CommandDump             CommandType = "DUMP"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Kind is the hwerr kind name of a failed request, so clients can
	// tell a busy capture block from a bad argument.
	Kind string `json:"kind,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	Engine        string        `json:"engine"`
	Capture       CaptureInfo   `json:"capture"`
	Secure        SecureInfo    `json:"secure"`
	Displays      []DisplayInfo `json:"displays"`
}

// CaptureInfo is the shared writeback block state.
type CaptureInfo struct {
	Status         string `json:"status"`
	Session        string `json:"session,omitempty"`
	Client         string `json:"client,omitempty"`
	Display        int    `json:"display"`
	FramesCaptured int    `json:"frames_captured"`
	FrameLimit     int    `json:"frame_limit"`
}

// SecureInfo lists the active secure session kinds.
type SecureInfo struct {
	Active    []string `json:"active"`
	TrustedUI string   `json:"trusted_ui"`
}

// DisplayInfo is the per-display row of GET_STATUS.
type DisplayInfo struct {
	ID              int           `json:"id"`
	Name            string        `json:"name"`
	Class           string        `json:"class"`
	Status          string        `json:"status"`
	Power           string        `json:"power"`
	PendingPower    string        `json:"pending_power,omitempty"`
	ActiveConfig    ConfigInfo    `json:"active_config"`
	PendingConfig   *PendingInfo  `json:"pending_config,omitempty"`
	VsyncPeriod     time.Duration `json:"vsync_period"`
	Layers          int           `json:"layers"`
	FrameState      string        `json:"frame_state"`
	Frames          uint64        `json:"frames"`
	SkippedPrepares uint64        `json:"skipped_prepares"`
	Flushes         uint64        `json:"flushes"`
	ClientLayers    int           `json:"client_layers"`
	FirstCommitDone bool          `json:"first_commit_done"`
	LiveFences      int           `json:"live_fences"`
	VsyncEnabled    bool          `json:"vsync_enabled"`
	VsyncEvents     uint64        `json:"vsync_events"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	Idle            bool          `json:"idle"`
	IdleSkips       uint64        `json:"idle_skips"`
	Error           string        `json:"error,omitempty"`
}

// ConfigInfo describes one display config.
type ConfigInfo struct {
	ID          uint32        `json:"id"`
	Width       uint32        `json:"width"`
	Height      uint32        `json:"height"`
	RefreshRate float64       `json:"refresh_rate"`
	VsyncPeriod time.Duration `json:"vsync_period"`
	Group       uint32        `json:"group"`
}

// PendingInfo is an accepted config change that has not been applied yet.
type PendingInfo struct {
	Target   uint32       `json:"target"`
	Timeline TimelineInfo `json:"timeline"`
}

// TimelineInfo is the estimate for a config change.
type TimelineInfo struct {
	RefreshTime time.Time `json:"refresh_time"`
	ApplyTime   time.Time `json:"apply_time"`
	Seamless    bool      `json:"seamless"`
}

// DisplayPayload selects a display.
type DisplayPayload struct {
	Display int `json:"display"`
}

// ConfigsData represents the data returned by LIST_CONFIGS
type ConfigsData struct {
	Display        int          `json:"display"`
	Active         uint32       `json:"active"`
	Configs        []ConfigInfo `json:"configs"`
	SupportedRates []float64    `json:"supported_rates"`
}

// RequestConfigPayload asks for an active config change. Either Config or
// RefreshRate must be set; a rate is mapped to the closest config.
type RequestConfigPayload struct {
	Display          int       `json:"display"`
	Config           *uint32   `json:"config,omitempty"`
	RefreshRate      float64   `json:"refresh_rate,omitempty"`
	DesiredTime      time.Time `json:"desired_time,omitempty"`
	SeamlessRequired bool      `json:"seamless_required,omitempty"`
}

// CapturePayload asks for a writeback capture.
type CapturePayload struct {
	Display    int    `json:"display"`
	Client     string `json:"client"`
	Buffer     uint64 `json:"buffer"`
	TapPoint   string `json:"tap_point,omitempty"`
	FrameLimit int    `json:"frame_limit,omitempty"`
}

// CaptureData is returned by CONFIGURE_CAPTURE.
type CaptureData struct {
	Session string `json:"session"`
}

// TeardownPayload releases a capture.
type TeardownPayload struct {
	Display int    `json:"display"`
	Client  string `json:"client"`
}

// SecureEventPayload reports a secure session transition.
type SecureEventPayload struct {
	Kind     string `json:"kind"`
	Entering bool   `json:"entering"`
}

// SecureEventData lists displays that need a forced refresh.
type SecureEventData struct {
	Refreshed []int `json:"refreshed"`
}

// PowerModePayload sets a display power mode.
type PowerModePayload struct {
	Display int    `json:"display"`
	Mode    string `json:"mode"`
}

// DisplayStatusPayload pauses, resumes or disconnects a display.
type DisplayStatusPayload struct {
	Display int    `json:"display"`
	Status  string `json:"status"`
}

// VsyncPayload turns vsync reporting on or off.
type VsyncPayload struct {
	Display int  `json:"display"`
	Enabled bool `json:"enabled"`
}

// IdleTimeoutPayload sets the idle timeout; zero disables it.
type IdleTimeoutPayload struct {
	Display int           `json:"display"`
	Timeout time.Duration `json:"timeout"`
}

// DumpData is the text dump of one or all displays.
type DumpData struct {
	Text string `json:"text"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// errorResponse carries err's kind alongside the message.
func errorResponse(err error) *Response {
	resp := NewErrorResponse(err.Error())
	resp.Kind = hwerr.Kind(err)
	return resp
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// RemoteError is a daemon-side failure. It matches the hwerr sentinel of
// its kind under errors.Is.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return "daemon error: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return kindErrors[e.Kind]
}

var kindErrors = map[string]error{
	"invalid_argument":     hwerr.ErrInvalidArgument,
	"resource_busy":        hwerr.ErrResourceBusy,
	"rejected_secure":      hwerr.ErrRejectedSecure,
	"not_ready":            hwerr.ErrNotReady,
	"hardware_rejected":    hwerr.ErrHardwareRejected,
	"seamless_not_allowed": hwerr.ErrSeamlessNotAllowed,
	"terminal":             hwerr.ErrTerminal,
}

// IsKind reports whether err is a RemoteError of the given kind.
func IsKind(err error, kind string) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == kind
}
