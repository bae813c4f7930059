// Package server implements the single-threaded readiness-based event loop:
// a listener and per-client registration with the poller, dispatch of
// read/write work to a worker pool, timer-driven idle eviction, and graceful
// shutdown.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/config"
	"github.com/reactord/reactord/internal/dbpool"
	"github.com/reactord/reactord/internal/httpx"
	"github.com/reactord/reactord/internal/logger"
	"github.com/reactord/reactord/internal/poller"
	"github.com/reactord/reactord/internal/timer"
	"github.com/reactord/reactord/internal/workerpool"
)

// maxFD bounds the total number of live connections: acceptLoop stops
// accepting while ConnectionCount() is at or above it.
const maxFD = 4096

// connCount is the process-wide count of live connections.
var connCount int64

// ConnectionCount reports the number of currently live connections.
func ConnectionCount() int64 {
	return atomic.LoadInt64(&connCount)
}

// Server owns the listener, the poller, the connection map, the timer
// heap, and the worker pool. The loop thread (Run) is the sole mutator of
// registration state and the timer.
type Server struct {
	cfg *config.Config
	log *logger.Logger

	listenFD   int
	listenPort int
	poll       poller.Poller

	// wakeR/wakeW are a self-pipe registered with the poller so a blocking
	// Wait(-1) call (no timers scheduled) can still be interrupted for
	// shutdown.
	wakeR, wakeW int

	listenTrigger poller.Mode
	connTrigger   poller.Mode

	connMu      sync.Mutex
	connections map[int]*connection

	timers  *timer.Heap
	workers *workerpool.Pool

	verifier httpx.Verifier
	dbPool   *dbpool.Pool

	idleTimeout time.Duration
	linger      bool

	closing atomic.Bool

	// ready is closed once the listener is bound and registered, so tests
	// (and anything else dialing back against Port()) know it's safe.
	ready chan struct{}
}

// New wires a Server from cfg. verifier and db may be nil for tests that
// don't exercise the auth side effect; db is closed by Shutdown if non-nil.
func New(cfg *config.Config, log *logger.Logger, verifier httpx.Verifier, db *dbpool.Pool) *Server {
	return &Server{
		cfg:           cfg,
		log:           log,
		listenTrigger: parseMode(cfg.ListenTrigger),
		connTrigger:   parseMode(cfg.ConnTrigger),
		connections:   make(map[int]*connection),
		timers:        timer.New(),
		workers:       workerpool.New(cfg.Workers, log),
		verifier:      verifier,
		dbPool:        db,
		idleTimeout:   time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		linger:        cfg.Linger,
		ready:         make(chan struct{}),
	}
}

// Ready returns a channel closed once the listener is bound and registered
// with the poller.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func parseMode(s string) poller.Mode {
	if s == "et" {
		return poller.EdgeTriggered
	}
	return poller.LevelTriggered
}

// Run creates the listener, registers it with the poller in the configured
// listen-trigger mode, and drives the event loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	fd, err := s.listen()
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listenFD = fd

	p, err := poller.NewPoller()
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: new poller: %w", err)
	}
	s.poll = p

	if err := s.poll.Add(s.listenFD, poller.Read, s.listenTrigger); err != nil {
		return fmt.Errorf("server: register listener: %w", err)
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf("server: wakeup pipe: %w", err)
	}
	s.wakeR, s.wakeW = fds[0], fds[1]
	if err := unix.SetNonblock(s.wakeR, true); err != nil {
		return fmt.Errorf("server: wakeup pipe nonblock: %w", err)
	}
	if err := unix.SetNonblock(s.wakeW, true); err != nil {
		return fmt.Errorf("server: wakeup pipe nonblock: %w", err)
	}
	if err := s.poll.Add(s.wakeR, poller.Read, poller.LevelTriggered); err != nil {
		return fmt.Errorf("server: register wakeup pipe: %w", err)
	}

	go func() {
		<-ctx.Done()
		unix.Write(s.wakeW, []byte{1})
	}()

	s.log.Infof("server listening on %s", s.cfg.Addr)
	close(s.ready)

	for {
		next := s.timers.GetNextTick()
		events, err := s.poll.Wait(next)
		if err != nil {
			s.log.Errorf("poller wait: %v", err)
			continue
		}

		shuttingDown := false
		for _, ev := range events {
			switch ev.Fd {
			case s.listenFD:
				s.acceptLoop()
				if err := s.poll.Modify(s.listenFD, poller.Read, s.listenTrigger); err != nil {
					s.log.Errorf("re-arm listener: %v", err)
				}
			case s.wakeR:
				shuttingDown = true
			default:
				s.dispatch(ev)
			}
		}
		if shuttingDown {
			return s.Shutdown()
		}
	}
}

// listen builds a non-blocking TCP listener socket with SO_REUSEADDR and
// (optionally) SO_LINGER.
func (s *Server) listen() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if s.linger {
		l := unix.Linger{Onoff: 1, Linger: 1}
		unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l)
	}

	sa, err := resolveAddr(s.cfg.Addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	name, err := unix.Getsockname(fd)
	if err == nil {
		if in4, ok := name.(*unix.SockaddrInet4); ok {
			s.listenPort = in4.Port
		}
	}

	return fd, nil
}

// Port returns the TCP port the listener is bound to, resolved after Run
// has started (useful for tests that bind to port 0 and need the OS-chosen
// port to dial back against).
func (s *Server) Port() int {
	return s.listenPort
}

// acceptLoop drains pending connections on the listener fd, up to maxFD
// total live connections, registering each with the poller in
// connTrigger mode with initial read interest and an idle timer.
func (s *Server) acceptLoop() {
	for {
		if int(ConnectionCount()) >= maxFD {
			return
		}

		nfd, _, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.log.Warnf("accept: %v", err)
			return
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		if err := s.poll.Add(nfd, poller.Read, s.connTrigger); err != nil {
			unix.Close(nfd)
			continue
		}

		conn := newConnection(nfd)
		s.connMu.Lock()
		s.connections[nfd] = conn
		s.connMu.Unlock()
		atomic.AddInt64(&connCount, 1)

		s.timers.Add(nfd, s.idleTimeout, func() { s.closeIdle(nfd) })
	}
}

// closeIdle is the timer callback for idle eviction; it always runs on the
// loop thread.
func (s *Server) closeIdle(fd int) {
	s.closeConn(fd)
}

// dispatch handles one readiness event for a client connection.
func (s *Server) dispatch(ev poller.Event) {
	s.connMu.Lock()
	conn, ok := s.connections[ev.Fd]
	s.connMu.Unlock()
	if !ok {
		return
	}

	if ev.Err {
		s.timers.Cancel(ev.Fd)
		s.closeConn(ev.Fd)
		return
	}

	s.timers.Adjust(ev.Fd, s.idleTimeout)

	if ev.Readable {
		s.submitConn(conn, (*Server).readTask)
	}
	if ev.Writable {
		s.submitConn(conn, (*Server).writeTask)
	}
}

// submitConn submits fn(conn) as a worker task. A panic inside fn is
// recovered here (on top of the worker pool's own backstop recovery) so the
// one connection that triggered it is logged and dropped, rather than left
// half-processed or leaking its fd.
func (s *Server) submitConn(conn *connection, fn func(*Server, *connection)) {
	s.workers.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("connection task panic fd=%d: %v", conn.fd, r)
				s.closeConn(conn.fd)
			}
		}()
		fn(s, conn)
	})
}

// readTask drains the socket, parses as much of the request as is
// available, builds a response once the request is complete, and re-arms
// the connection for read or write accordingly.
func (s *Server) readTask(conn *connection) {
	etMode := s.connTrigger == poller.EdgeTriggered

	n, err := conn.readSocket(etMode)
	if err != nil {
		s.closeConn(conn.fd)
		return
	}
	if n == 0 && conn.readBuf.Readable() == 0 {
		s.closeConn(conn.fd)
		return
	}

	ready, err := conn.process(context.Background(), s.cfg.ResourceRoot, s.verifier)
	if err != nil {
		s.log.Errorf("process fd=%d: %v", conn.fd, err)
		s.closeConn(conn.fd)
		return
	}

	if ready {
		if err := s.poll.Modify(conn.fd, poller.Write, s.connTrigger); err != nil {
			s.closeConn(conn.fd)
		}
		return
	}

	if err := s.poll.Modify(conn.fd, poller.Read, s.connTrigger); err != nil {
		s.closeConn(conn.fd)
	}
}

// writeTask flushes the scatter-write vector and either resets for
// keep-alive, closes, or re-arms for more writing.
func (s *Server) writeTask(conn *connection) {
	etMode := s.connTrigger == poller.EdgeTriggered

	_, err := conn.writeSocket(etMode)
	if err != nil {
		s.closeConn(conn.fd)
		return
	}

	if conn.toWriteBytes() > 0 {
		if err := s.poll.Modify(conn.fd, poller.Write, s.connTrigger); err != nil {
			s.closeConn(conn.fd)
		}
		return
	}

	if !conn.isKeepAlive() {
		s.closeConn(conn.fd)
		return
	}

	if err := conn.resetForKeepAlive(); err != nil {
		s.log.Warnf("unmap fd=%d: %v", conn.fd, err)
	}
	if err := s.poll.Modify(conn.fd, poller.Read, s.connTrigger); err != nil {
		s.closeConn(conn.fd)
	}
}

// closeConn removes conn from the map, cancels its timer, closes its fd,
// and decrements the global connection count. Idempotent.
func (s *Server) closeConn(fd int) {
	s.connMu.Lock()
	conn, ok := s.connections[fd]
	if ok {
		delete(s.connections, fd)
	}
	s.connMu.Unlock()
	if !ok {
		return
	}

	s.timers.Cancel(fd)
	s.poll.Remove(fd)
	conn.close()
	atomic.AddInt64(&connCount, -1)
}

// Shutdown stops accepting, closes every tracked connection, tears down
// the worker pool, and closes the DB pool.
func (s *Server) Shutdown() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	unix.Close(s.listenFD)
	if s.wakeR != 0 {
		s.poll.Remove(s.wakeR)
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
	}

	s.connMu.Lock()
	fds := make([]int, 0, len(s.connections))
	for fd := range s.connections {
		fds = append(fds, fd)
	}
	s.connMu.Unlock()

	for _, fd := range fds {
		s.closeConn(fd)
	}

	s.workers.Close()

	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			return err
		}
	}

	return s.poll.Close()
}
