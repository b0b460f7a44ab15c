package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

// clientDialTimeout bounds how long a client subcommand waits to connect to
// a running agent's control socket.
const clientDialTimeout = 2 * time.Second

// sendCommand dials socketPath, writes req as a newline-terminated JSON
// document, and — when out is non-nil — decodes one JSON response line into
// it (spec.md §6). Only the "info" command replies with a payload; every
// other command is fire-and-forget.
func sendCommand(socketPath string, req controlsocket.Request, out any) error {
	conn, err := net.DialTimeout("unix", socketPath, clientDialTimeout)
	if err != nil {
		return fmt.Errorf("dial control socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	if out == nil {
		return nil
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return fmt.Errorf("read response: connection closed with no reply")
	}
	if err := json.Unmarshal(scanner.Bytes(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
