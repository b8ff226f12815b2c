package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Controller is the daemon surface the IPC server drives. Implementations
// must be safe for concurrent use; each connection is served on its own
// goroutine.
type Controller interface {
	Status() StatusData
	Configs(display int) (ConfigsData, error)
	RequestConfig(p RequestConfigPayload) (TimelineInfo, error)
	ConfigureCapture(p CapturePayload) (CaptureData, error)
	TeardownCapture(p TeardownPayload) error
	SecureEvent(p SecureEventPayload) (SecureEventData, error)
	SetPowerMode(p PowerModePayload) error
	SetDisplayStatus(p DisplayStatusPayload) error
	SetVsync(p VsyncPayload) error
	SetIdleTimeout(p IdleTimeoutPayload) error
	Dump(display *int) (string, error)
	Reload() error
}

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	listener     net.Listener
	ctrl         Controller
	logger       *slog.Logger
	wg           sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server bound to socketPath once started.
func NewServer(socketPath string, ctrl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		logger:     logger,
	}
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	// Remove a stale socket left by a crashed daemon.
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("ipc server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			stopping := s.shuttingDown
			s.shutdownMu.Unlock()
			if stopping {
				return
			}
			s.logger.Warn("ipc accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection serves one JSON request line.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReader(conn)
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("ipc read failed", "error", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.writeResponse(conn, NewErrorResponse(fmt.Sprintf("Invalid request: %v", err)))
		return
	}

	s.writeResponse(conn, s.handleCommand(req))
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Error("failed to marshal ipc response", "error", err)
		return
	}
	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Warn("failed to send ipc response", "error", err)
	}
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ipc handler panic", "command", req.Command, "panic", r)
			resp = NewErrorResponse(fmt.Sprintf("internal error handling %s", req.Command))
		}
	}()

	s.logger.Debug("ipc request", "command", req.Command)

	switch req.Command {
	case CommandReload:
		return reply(nil, s.ctrl.Reload())
	case CommandGetStatus:
		return reply(s.ctrl.Status(), nil)
	case CommandListConfigs:
		var p DisplayPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(s.ctrl.Configs(p.Display))
	case CommandRequestConfig:
		var p RequestConfigPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(s.ctrl.RequestConfig(p))
	case CommandConfigureCapture:
		var p CapturePayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(s.ctrl.ConfigureCapture(p))
	case CommandTeardownCapture:
		var p TeardownPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(nil, s.ctrl.TeardownCapture(p))
	case CommandSecureEvent:
		var p SecureEventPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(s.ctrl.SecureEvent(p))
	case CommandSetPowerMode:
		var p PowerModePayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(nil, s.ctrl.SetPowerMode(p))
	case CommandSetDisplayStatus:
		var p DisplayStatusPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(nil, s.ctrl.SetDisplayStatus(p))
	case CommandSetVsync:
		var p VsyncPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(nil, s.ctrl.SetVsync(p))
	case CommandSetIdleTimeout:
		var p IdleTimeoutPayload
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		return reply(nil, s.ctrl.SetIdleTimeout(p))
	case CommandDump:
		var p struct {
			Display *int `json:"display,omitempty"`
		}
		if resp := decode(req, &p); resp != nil {
			return resp
		}
		text, err := s.ctrl.Dump(p.Display)
		return reply(DumpData{Text: text}, err)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

// decode unmarshals an optional payload; an empty payload leaves out zeroed.
func decode(req *Request, out any) *Response {
	if len(req.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Payload, out); err != nil {
		resp := NewErrorResponse(fmt.Sprintf("Invalid %s payload: %v", req.Command, err))
		resp.Kind = "invalid_argument"
		return resp
	}
	return nil
}

func reply(data any, err error) *Response {
	if err != nil {
		return errorResponse(err)
	}
	resp, merr := NewOKResponse(data)
	if merr != nil {
		return NewErrorResponse(merr.Error())
	}
	return resp
}

// Stop closes the listener and removes the socket.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
