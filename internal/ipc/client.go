package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// sendRequest sends a request and waits for a response
func (c *Client) sendRequest(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Status == "ERROR" {
		return nil, &RemoteError{Kind: resp.Kind, Message: resp.Error}
	}

	return &resp, nil
}

// call sends command with payload and decodes the response data into out
// when out is non-nil.
func (c *Client) call(command CommandType, payload any, out any) error {
	req := &Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		req.Payload = data
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", command, err)
	}
	return nil
}

// Reload asks the daemon to re-read its config.
func (c *Client) Reload() error {
	return c.call(CommandReload, nil, nil)
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListConfigs returns the configs a display offers.
func (c *Client) ListConfigs(display int) (*ConfigsData, error) {
	var data ConfigsData
	if err := c.call(CommandListConfigs, DisplayPayload{Display: display}, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// RequestConfig asks for an active config change and returns its timeline.
func (c *Client) RequestConfig(p RequestConfigPayload) (*TimelineInfo, error) {
	var data TimelineInfo
	if err := c.call(CommandRequestConfig, p, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ConfigureCapture claims the writeback block.
func (c *Client) ConfigureCapture(p CapturePayload) (*CaptureData, error) {
	var data CaptureData
	if err := c.call(CommandConfigureCapture, p, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// TeardownCapture releases a capture owned by the client.
func (c *Client) TeardownCapture(p TeardownPayload) error {
	return c.call(CommandTeardownCapture, p, nil)
}

// SecureEvent reports a secure session transition.
func (c *Client) SecureEvent(p SecureEventPayload) (*SecureEventData, error) {
	var data SecureEventData
	if err := c.call(CommandSecureEvent, p, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetPowerMode queues a power mode change.
func (c *Client) SetPowerMode(p PowerModePayload) error {
	return c.call(CommandSetPowerMode, p, nil)
}

// SetDisplayStatus pauses, resumes or disconnects a display.
func (c *Client) SetDisplayStatus(p DisplayStatusPayload) error {
	return c.call(CommandSetDisplayStatus, p, nil)
}

// SetVsync turns vsync reporting on or off.
func (c *Client) SetVsync(p VsyncPayload) error {
	return c.call(CommandSetVsync, p, nil)
}

// SetIdleTimeout changes a display's idle timeout.
func (c *Client) SetIdleTimeout(p IdleTimeoutPayload) error {
	return c.call(CommandSetIdleTimeout, p, nil)
}

// Dump returns the text dump of one display, or all when display is nil.
func (c *Client) Dump(display *int) (string, error) {
	var payload any
	if display != nil {
		payload = DisplayPayload{Display: *display}
	}
	var data DumpData
	if err := c.call(CommandDump, payload, &data); err != nil {
		return "", err
	}
	return data.Text, nil
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
