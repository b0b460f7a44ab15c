package cli_test

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracerbio/tracer/internal/cli"
)

// These tests exercise the control-socket wire protocol a client subcommand
// speaks, using a hand-rolled fake listener in place of a real agent
// (mirrors the teacher's fake-server style used across the other _test.go
// files in this module).

func TestClientCommands_RoundTripInfo(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "tracer.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type request struct {
		Command string `json:"command"`
	}
	type infoResponse struct {
		RunName     string `json:"run_name"`
		RunID       string `json:"run_id"`
		ServiceName string `json:"service_name"`
	}

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			done <- scanner.Err()
			return
		}
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			done <- err
			return
		}
		if req.Command != "info" {
			t.Errorf("command = %q, want %q", req.Command, "info")
		}

		resp, _ := json.Marshal(infoResponse{RunName: "run-1", RunID: "abc123", ServiceName: "demo"})
		conn.Write(append(resp, '\n'))
		done <- nil
	}()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := json.Marshal(request{Command: "info"})
	if _, err := conn.Write(append(req, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response: %v", scanner.Err())
	}
	var resp infoResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunName != "run-1" || resp.RunID != "abc123" {
		t.Errorf("resp = %+v, want run-1/abc123", resp)
	}

	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

// TestExecute_UnknownCommandFails exercises the real command tree through
// cli.Execute, confirming an unrecognized subcommand is rejected rather than
// silently accepted.
func TestExecute_UnknownCommandFails(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"tracer", "does-not-exist"}
	if err := cli.Execute(); err == nil {
		t.Fatal("Execute() with an unknown subcommand returned nil error")
	}
}
