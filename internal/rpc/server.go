package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

// Server accepts connections on a unix domain socket and hands each one
// to the Dispatcher, one line-delimited request at a time. Only one
// connection is expected at a time in practice (a single greeter or
// tray client), but the accept loop does not enforce that; the
// Dispatcher's session mutex is what actually serializes camera-owning
// work.
type Server struct {
	path       string
	group      string
	dispatcher *Dispatcher
	logger     *slog.Logger

	listener *net.UnixListener
}

func NewServer(socketPath, socketGroup string, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	return &Server{path: socketPath, group: socketGroup, dispatcher: dispatcher, logger: logger}
}

// Listen creates the socket directory and binds the unix socket,
// removing any stale socket file left behind by an unclean shutdown.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	addr, err := net.ResolveUnixAddr("unix", s.path)
	if err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mode := os.FileMode(0o600)
	if s.group != "" {
		mode = 0o660
		if grp, err := user.LookupGroup(s.group); err == nil {
			gid, _ := strconv.Atoi(grp.Gid)
			if err := os.Chown(s.path, -1, gid); err != nil {
				s.logger.Warn("socket chown failed", "group", s.group, "error", err)
			}
		} else {
			s.logger.Warn("socket group not found", "group", s.group, "error", err)
		}
	}
	if err := os.Chmod(s.path, mode); err != nil {
		return err
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	cred, err := peerCredOf(conn)
	if err != nil {
		s.logger.Warn("peer credential lookup failed", "error", err)
	} else {
		s.logger.Info("client connected", "pid", cred.PID, "uid", cred.UID)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)
		resp := s.dispatcher.HandleLine(ctx, lineCopy, time.Now())
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("write response failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("connection read error", "error", err)
	}
}

// Close closes the listener and removes the socket file.
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	return os.Remove(s.path)
}
