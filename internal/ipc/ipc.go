// Package ipc is the unix-socket control channel between nebula-ctl and
// the daemon. Each connection carries one JSON request and one reply.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"nebula/internal/store"
)

var ErrNotRunning = errors.New("nebula-daemon not running")

type Request struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

type Response struct {
	OK      bool         `json:"ok"`
	Message string       `json:"message,omitempty"`
	Tasks   []store.Task `json:"tasks,omitempty"`
}

type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// DefaultSocketPath prefers XDG_RUNTIME_DIR and falls back to /tmp.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "nebula.sock")
	}
	return "/tmp/nebula.sock"
}

// Serve accepts connections on path until ctx is done.
func Serve(ctx context.Context, path string, h Handler) error {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(path)

	log.Info("Control socket ready", "path", path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, h)
	}
}

func handleConn(ctx context.Context, conn net.Conn, h Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Warn("Bad control request", "err", err)
		return
	}

	log.Debug("Control request", "cmd", req.Cmd)
	resp := h.Handle(ctx, req)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Warn("Failed to reply", "cmd", req.Cmd, "err", err)
	}
}

// Send delivers req to the daemon listening on path.
func Send(ctx context.Context, path string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read reply: %w", err)
	}
	return resp, nil
}
