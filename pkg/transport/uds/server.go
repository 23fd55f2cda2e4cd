package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// maxLine bounds a single NDJSON message.
const maxLine = 1024 * 1024

// writeTimeout bounds a write to one client so a stalled reader cannot block
// broadcasts.
const writeTimeout = 5 * time.Second

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

type connKey struct{}

// ConnID returns the identifier of the connection a request arrived on.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connKey{}).(string)
	return id
}

type client struct {
	id  string
	nc  net.Conn
	wmu sync.Mutex
}

func (c *client) write(line []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.nc.Write(line)
	return err
}

// Server listens on a Unix domain socket and dispatches NDJSON messages.
// Requests on one connection are handled concurrently; responses carry the
// request ID.
type Server struct {
	socketPath string
	logger     *slog.Logger

	mu         sync.RWMutex
	listener   net.Listener
	handlers   map[string]HandlerFunc
	clients    map[string]*client
	disconnect func(id string)
	wg         sync.WaitGroup
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[string]*client),
		logger:     logger,
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// OnDisconnect registers a callback run after a client goes away.
func (s *Server) OnDisconnect(fn func(id string)) {
	s.mu.Lock()
	s.disconnect = fn
	s.mu.Unlock()
}

// Start begins listening and blocks until ctx is cancelled. It removes any
// stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		c := &client{id: nextID("conn"), nc: conn}
		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(ctx, c)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(msg Message) {
	line, err := marshalLine(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", "err", err)
		return
	}
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	for _, c := range targets {
		if err := c.write(line); err != nil {
			s.logger.Warn("broadcast write error", "conn", c.id, "err", err)
		}
	}
}

// Send pushes msg to one client.
func (s *Server) Send(connID string, msg Message) error {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send: unknown connection %s", connID)
	}
	line, err := marshalLine(msg)
	if err != nil {
		return err
	}
	return c.write(line)
}

// Shutdown closes the listener and every connection, waits for connection
// goroutines to finish and removes the socket file.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.clients {
		c.nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, c *client) {
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		c.nc.Close()
		s.mu.Lock()
		delete(s.clients, c.id)
		onClose := s.disconnect
		s.mu.Unlock()
		if onClose != nil {
			onClose(c.id)
		}
		s.wg.Done()
	}()

	ctx, cancel := context.WithCancel(context.WithValue(ctx, connKey{}, c.id))
	defer cancel()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("invalid message", "conn", c.id, "err", err)
			continue
		}
		if msg.Type != MsgTypeReq {
			continue
		}

		s.mu.RLock()
		handler, ok := s.handlers[msg.Method]
		s.mu.RUnlock()
		if !ok {
			s.reply(c, NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method)))
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.reply(c, s.call(ctx, handler, msg))
		}()
	}
	cancel()
}

// call runs a handler, converting errors and panics into error responses.
func (s *Server) call(ctx context.Context, h HandlerFunc, msg Message) (resp Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", msg.Method, "err", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("internal error: %v", r))
		}
	}()
	result, err := h(ctx, msg)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, err.Error())
	}
	resp, err = NewResponse(msg.ID, msg.Method, result)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("encode response: %v", err))
	}
	return resp
}

func (s *Server) reply(c *client, msg Message) {
	line, err := marshalLine(msg)
	if err != nil {
		s.logger.Error("marshal response error", "err", err)
		return
	}
	if err := c.write(line); err != nil {
		s.logger.Warn("write response error", "conn", c.id, "err", err)
	}
}

func marshalLine(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
