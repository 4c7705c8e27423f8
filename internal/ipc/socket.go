package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/hookd/internal/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler serves the commands a client can send
type Handler interface {
	HandleStatus() (Status, error)
	HandleRelease(reason string) error
}

// SocketServer handles incoming IPC connections
type SocketServer struct {
	mu         sync.Mutex
	listener   net.Listener
	socketPath string
	handler    Handler
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	running    bool
}

// NewSocketServer creates a server that will listen on socketPath
func NewSocketServer(socketPath string, handler Handler) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handler:    handler,
	}
}

// Path returns the socket path
func (s *SocketServer) Path() string { return s.socketPath }

// Start starts the socket server
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	// user only; under sudo the socket is handed to the invoking user
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	chownToSudoUser(s.socketPath)

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptConnections(ctx)

	logger.Infof("IPC socket server started at %s", s.socketPath)
	return nil
}

// Stop stops the socket server and removes the socket file
func (s *SocketServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	os.RemoveAll(s.socketPath)
	logger.Info("IPC socket server stopped")
}

func (s *SocketServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorf("Failed to accept connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// unblock the read below when the server stops
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msg, err := readMessage(conn)
		if err != nil {
			logger.Debugf("Connection closed or read error: %v", err)
			return
		}

		if err := writeMessage(conn, s.handleMessage(msg)); err != nil {
			logger.Errorf("Failed to send response: %v", err)
			return
		}
	}
}

func (s *SocketServer) handleMessage(msg *structpb.Struct) *structpb.Struct {
	var (
		resp *structpb.Struct
		err  error
	)

	switch t := MessageType(msg); t {
	case TypeStatus:
		var st Status
		if st, err = s.handler.HandleStatus(); err == nil {
			resp, err = NewStatusResponseMessage(st)
		}
	case TypeRelease:
		if err = s.handler.HandleRelease(GetReleaseReason(msg)); err == nil {
			resp, err = NewOKMessage()
		}
	default:
		err = fmt.Errorf("unknown message type: %q", t)
	}

	if err != nil {
		resp, _ = NewErrorMessage(err.Error())
	}
	return resp
}
