package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bnema/hookd/internal/logger"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrNotRunning is returned when no daemon listens on the socket
var ErrNotRunning = errors.New("hookd is not running")

// Client talks to a running daemon. Each request uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for socketPath
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

// NewClientWithTimeout creates a client with a custom request timeout
func NewClientWithTimeout(socketPath string, timeout time.Duration) *Client {
	c := NewClient(socketPath)
	c.timeout = timeout
	return c
}

// Status queries the daemon's state
func (c *Client) Status() (Status, error) {
	msg, err := NewStatusMessage()
	if err != nil {
		return Status{}, err
	}
	resp, err := c.sendMessage(msg)
	if err != nil {
		return Status{}, err
	}

	switch t := MessageType(resp); t {
	case TypeStatusResponse:
		return GetStatus(resp)
	case TypeError:
		return Status{}, fmt.Errorf("server error: %s", GetError(resp))
	default:
		return Status{}, fmt.Errorf("unexpected response type: %q", t)
	}
}

// Release asks the daemon to stop every hook and drop every grab
func (c *Client) Release(reason string) error {
	msg, err := NewReleaseMessage(reason)
	if err != nil {
		return err
	}
	resp, err := c.sendMessage(msg)
	if err != nil {
		return err
	}

	switch t := MessageType(resp); t {
	case TypeOK:
		return nil
	case TypeError:
		return fmt.Errorf("server error: %s", GetError(resp))
	default:
		return fmt.Errorf("unexpected response type: %q", t)
	}
}

// IsRunning reports whether a daemon answers on the socket
func (c *Client) IsRunning() bool {
	_, err := c.Status()
	return err == nil
}

func (c *Client) sendMessage(msg *structpb.Struct) (*structpb.Struct, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		if isNotListening(err) {
			return nil, fmt.Errorf("%w (socket %s)", ErrNotRunning, c.socketPath)
		}
		return nil, fmt.Errorf("failed to connect to hookd: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close IPC connection: %v", err)
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		logger.Warnf("Failed to set connection deadline: %v", err)
	}

	if err := writeMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	resp, err := readMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

func isNotListening(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

// chownToSudoUser gives path to the user who ran sudo, so the unprivileged
// CLI can reach a daemon started as root
func chownToSudoUser(path string) {
	name := os.Getenv("SUDO_USER")
	if name == "" || os.Geteuid() != 0 {
		return
	}
	u, err := user.Lookup(name)
	if err != nil {
		logger.Debugf("Cannot look up SUDO_USER %s: %v", name, err)
		return
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	if err := os.Chown(path, uid, gid); err != nil {
		logger.Warnf("Failed to hand %s to %s: %v", filepath.Base(path), name, err)
	}
}
