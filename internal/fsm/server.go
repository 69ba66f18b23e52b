package fsm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
)

// Stage mirrors the connection-state diagram in spec.md §4.D.
type Stage int

const (
	StageInit Stage = iota
	StageRecvBody
	StageDIOInFlight
	StageSendResponse
	StageClose
)

// Conn is one client connection's protocol state (spec.md §3 "Connection
// State"). ThreadKey returns the connection's remote address as a DIO
// pinning key; the DiskFileStore jobs a command submits leave
// dio.Job.ThreadKey empty, so they all queue on worker 0 of their pool.
type Conn struct {
	nc          net.Conn
	log         *slog.Logger
	idleTimeout time.Duration
	stage       Stage
	groupName   string
	serverID    string
}

// HandlerFunc processes one command's already-read body and returns the
// response body plus any error (mapped to a status byte by the caller).
type HandlerFunc func(ctx context.Context, c *Conn, body []byte) ([]byte, error)

// Dispatcher is the map[cmd]command registry from spec.md §9's tagged
// variant design note.
type Dispatcher struct {
	handlers map[uint8]HandlerFunc
}

// NewDispatcher creates an empty dispatcher; callers register commands
// with Register.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint8]HandlerFunc)}
}

// Register binds cmd to fn.
func (d *Dispatcher) Register(cmd uint8, fn HandlerFunc) {
	d.handlers[cmd] = fn
}

// Server runs accepted connections through the dispatcher.
type Server struct {
	Dispatcher  *Dispatcher
	Log         *slog.Logger
	IdleTimeout time.Duration
	GroupName   string
	ServerID    string
}

// Serve accepts connections from ln until ctx is cancelled, handling
// each on its own goroutine — Go's natural equivalent of spec.md §5's
// "work_threads" event loops (the runtime multiplexes goroutines onto
// OS threads without a bespoke epoll loop).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	c := &Conn{
		nc:          nc,
		log:         s.Log,
		idleTimeout: s.IdleTimeout,
		stage:       StageInit,
		groupName:   s.GroupName,
		serverID:    s.ServerID,
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.idleTimeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		c.stage = StageInit
		hdr, err := wire.ReadHeader(nc)
		if err != nil {
			return
		}
		c.stage = StageRecvBody
		// No idle deadline once the body is framed: spec.md §4.D says idle
		// timeout applies in INIT and RECV_BODY, so body-receive is still
		// covered by the deadline set above; a long-running body transfer
		// relies on the client sending steadily rather than a fresh per-byte
		// deadline, matching the coarse per-command framing model.
		body := make([]byte, hdr.BodyLen)
		if hdr.BodyLen > 0 {
			if _, err := io.ReadFull(nc, body); err != nil {
				return
			}
		}

		if hdr.Cmd == wire.CmdQuit {
			return
		}

		handler, ok := s.Dispatcher.handlers[hdr.Cmd]
		if !ok {
			writeErrorResponse(nc, ferr.ErrProtocol)
			return
		}

		c.stage = StageDIOInFlight
		respBody, herr := handler(ctx, c, body)
		c.stage = StageSendResponse

		status := ferr.ToStatus(herr)
		respHdr := wire.Header{BodyLen: int64(len(respBody)), Cmd: hdr.Cmd, Status: uint8(status)}
		if err := wire.WriteHeader(nc, respHdr); err != nil {
			return
		}
		if len(respBody) > 0 {
			if _, err := nc.Write(respBody); err != nil {
				return
			}
		}
		if errors.Is(herr, ferr.ErrProtocol) {
			return
		}
	}
}

func writeErrorResponse(nc net.Conn, err error) {
	status := ferr.ToStatus(err)
	_ = wire.WriteHeader(nc, wire.Header{BodyLen: 0, Cmd: 0, Status: uint8(status)})
}

// ThreadKey returns the stable pinning key DIO jobs for this connection
// should use (spec.md §4.E dio_thread_index).
func (c *Conn) ThreadKey() string {
	if c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

// readFixed reads n bytes from a body buffer at offset, returning an
// ErrProtocol-wrapped error if the buffer is too short.
func readFixed(body []byte, offset, n int) ([]byte, error) {
	if offset+n > len(body) {
		return nil, fmt.Errorf("%w: body too short", ferr.ErrProtocol)
	}
	return body[offset : offset+n], nil
}

func splitOnNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
