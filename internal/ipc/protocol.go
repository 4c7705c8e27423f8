// Package ipc is the control socket of a running hookd daemon. Messages
// are google.protobuf.Struct values with a "type" field, framed by a 4-byte
// big-endian length.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message types
const (
	TypeStatus         = "status"
	TypeStatusResponse = "status_response"
	TypeRelease        = "release"
	TypeOK             = "ok"
	TypeError          = "error"
)

// maxMessageSize bounds a frame so a bad length cannot make us allocate gigabytes
const maxMessageSize = 1 << 20

// Status is what the daemon reports about itself
type Status struct {
	Backend string
	Output  string
	Hooks   int
	// Capturing counts active hooks that grab their devices
	Capturing int
	// Queued is the number of events waiting for callbacks
	Queued int

	Devices []DeviceStatus
	Hotkeys []HotkeyStatus
}

// DeviceStatus describes one open device
type DeviceStatus struct {
	Path       string
	Name       string
	Category   string
	Grabbed    bool
	Collectors int
}

// HotkeyStatus describes one registered hotkey
type HotkeyStatus struct {
	Hotkey      string
	Blocked     bool
	DoublePress bool
	Fired       int64
}

func newMessage(msgType string, fields map[string]interface{}) (*structpb.Struct, error) {
	m := map[string]interface{}{"type": msgType}
	for k, v := range fields {
		m[k] = v
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build %s message: %w", msgType, err)
	}
	return msg, nil
}

// NewStatusMessage creates a status query
func NewStatusMessage() (*structpb.Struct, error) {
	return newMessage(TypeStatus, nil)
}

// NewReleaseMessage asks the daemon to drop every hook and grab
func NewReleaseMessage(reason string) (*structpb.Struct, error) {
	return newMessage(TypeRelease, map[string]interface{}{"reason": reason})
}

// NewOKMessage acknowledges a command
func NewOKMessage() (*structpb.Struct, error) {
	return newMessage(TypeOK, nil)
}

// NewErrorMessage reports a failed command
func NewErrorMessage(errMsg string) (*structpb.Struct, error) {
	return newMessage(TypeError, map[string]interface{}{"error": errMsg})
}

// NewStatusResponseMessage encodes st
func NewStatusResponseMessage(st Status) (*structpb.Struct, error) {
	devices := make([]interface{}, 0, len(st.Devices))
	for _, d := range st.Devices {
		devices = append(devices, map[string]interface{}{
			"path":       d.Path,
			"name":       d.Name,
			"category":   d.Category,
			"grabbed":    d.Grabbed,
			"collectors": d.Collectors,
		})
	}
	hotkeys := make([]interface{}, 0, len(st.Hotkeys))
	for _, h := range st.Hotkeys {
		hotkeys = append(hotkeys, map[string]interface{}{
			"hotkey":       h.Hotkey,
			"blocked":      h.Blocked,
			"double_press": h.DoublePress,
			"fired":        h.Fired,
		})
	}
	return newMessage(TypeStatusResponse, map[string]interface{}{
		"backend": st.Backend,
		"output":  st.Output,
		"hooks":     st.Hooks,
		"capturing": st.Capturing,
		"queued":    st.Queued,
		"devices":   devices,
		"hotkeys": hotkeys,
	})
}

// MessageType returns the type field of msg, or "" if it has none
func MessageType(msg *structpb.Struct) string {
	return stringField(msg, "type")
}

// GetStatus decodes a status response
func GetStatus(msg *structpb.Struct) (Status, error) {
	if t := MessageType(msg); t != TypeStatusResponse {
		return Status{}, fmt.Errorf("message is not a status response: %q", t)
	}

	st := Status{
		Backend: stringField(msg, "backend"),
		Output:  stringField(msg, "output"),
		Hooks:     int(numberField(msg, "hooks")),
		Capturing: int(numberField(msg, "capturing")),
		Queued:    int(numberField(msg, "queued")),
	}
	for _, v := range listField(msg, "devices") {
		d := v.GetStructValue()
		if d == nil {
			continue
		}
		st.Devices = append(st.Devices, DeviceStatus{
			Path:       stringField(d, "path"),
			Name:       stringField(d, "name"),
			Category:   stringField(d, "category"),
			Grabbed:    boolField(d, "grabbed"),
			Collectors: int(numberField(d, "collectors")),
		})
	}
	for _, v := range listField(msg, "hotkeys") {
		h := v.GetStructValue()
		if h == nil {
			continue
		}
		st.Hotkeys = append(st.Hotkeys, HotkeyStatus{
			Hotkey:      stringField(h, "hotkey"),
			Blocked:     boolField(h, "blocked"),
			DoublePress: boolField(h, "double_press"),
			Fired:       int64(numberField(h, "fired")),
		})
	}
	return st, nil
}

// GetError returns the text of an error message
func GetError(msg *structpb.Struct) string {
	return stringField(msg, "error")
}

// GetReleaseReason returns the reason of a release command
func GetReleaseReason(msg *structpb.Struct) string {
	return stringField(msg, "reason")
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func numberField(msg *structpb.Struct, name string) float64 {
	return msg.GetFields()[name].GetNumberValue()
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

func listField(msg *structpb.Struct, name string) []*structpb.Value {
	return msg.GetFields()[name].GetListValue().GetValues()
}

// readMessage reads one length-prefixed message
func readMessage(r io.Reader) (*structpb.Struct, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds the %d byte limit", length, maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}

// writeMessage writes one length-prefixed message
func writeMessage(w io.Writer, msg *structpb.Struct) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	length := uint32(len(data)) //nolint:gosec // bounded by maxMessageSize on the reading side
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message data: %w", err)
	}
	return nil
}
