// Package dumpserver exposes a running compositor over a websocket: clients
// receive text snapshots of the scene, the screens and the counters, and may
// submit JSON transactions.
//
// Messages from the client:
//
//	dump          reply with one snapshot
//	{...}         a JSON transaction; replied to with "ok" or "error: ..."
//
// When Interval is set, snapshots are also pushed on that cadence.
package dumpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phanxgames/canopy"
)

// firstSender is the sender id of the first connection. Local clients use
// lower ids.
const firstSender canopy.SenderID = 1 << 16

// Server serves one compositor.
type Server struct {
	c *canopy.Compositor

	// Interval between pushed snapshots; zero pushes only on request.
	Interval time.Duration
	// Timeout bounds how long a snapshot waits for the main and render
	// goroutines.
	Timeout time.Duration

	upgrader websocket.Upgrader
	senders  atomic.Uint32
	conns    atomic.Int32
}

// New returns a server for c.
func New(c *canopy.Compositor) *Server {
	s := &Server{c: c, Timeout: time.Second}
	s.senders.Store(uint32(firstSender) - 1)
	return s
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int { return int(s.conns.Load()) }

// Snapshot renders the scene dump on the main goroutine and the screen dump
// on the render goroutine.
func (s *Server) Snapshot(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := s.run(ctx, s.c.Looper(), func() error { return s.c.Dump(&buf) }); err != nil {
		return "", fmt.Errorf("dump scene: %w", err)
	}
	rt := s.c.RenderThread()
	if err := s.run(ctx, rt.Looper(), func() error { return rt.DumpScreens(&buf) }); err != nil {
		return "", fmt.Errorf("dump screens: %w", err)
	}
	return buf.String(), nil
}

func (s *Server) run(ctx context.Context, l *canopy.Looper, fn func() error) error {
	done := make(chan error, 1)
	if err := l.Post(canopy.PriorityNormal, func() { done <- fn() }); err != nil {
		return err
	}
	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s looper did not respond within %v", l.Name(), s.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		canopy.Logger().Warn("dump upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Add(-1)
	defer conn.Close()

	sender := canopy.SenderID(s.senders.Add(1))
	canopy.Logger().Info("dump client connected", "remote", r.RemoteAddr, "sender", sender)
	sess := &session{s: s, conn: conn, sender: sender}
	if err := sess.serve(r.Context()); err != nil && !isClose(err) {
		canopy.Logger().Warn("dump client", "sender", sender, "err", err)
	}
	s.c.Transactions().Forget(sender)
	canopy.Logger().Info("dump client disconnected", "sender", sender)
}

type session struct {
	s      *Server
	conn   *websocket.Conn
	sender canopy.SenderID
	wmu    sync.Mutex
}

func (ss *session) write(msg string) error {
	ss.wmu.Lock()
	defer ss.wmu.Unlock()
	return ss.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (ss *session) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if ss.s.Interval > 0 {
		go ss.push(ctx)
	}
	for {
		_, msg, err := ss.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := ss.handle(ctx, bytes.TrimSpace(msg)); err != nil {
			return err
		}
	}
}

func (ss *session) handle(ctx context.Context, msg []byte) error {
	switch {
	case string(msg) == "dump":
		snap, err := ss.s.Snapshot(ctx)
		if err != nil {
			return ss.write("error: " + err.Error())
		}
		return ss.write(snap)
	case len(msg) > 0 && msg[0] == '{':
		if err := ss.s.c.Submit(ss.sender, msg); err != nil {
			return ss.write("error: " + err.Error())
		}
		return ss.write("ok")
	}
	return ss.write(fmt.Sprintf("error: unknown message %q", truncate(msg, 32)))
}

func (ss *session) push(ctx context.Context) {
	t := time.NewTicker(ss.s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap, err := ss.s.Snapshot(ctx)
			if err != nil {
				canopy.Logger().Debug("dump push", "sender", ss.sender, "err", err)
				continue
			}
			if err := ss.write(snap); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves s at path on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr, path string, s *Server) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	canopy.Logger().Info("dump server listening", "addr", addr, "path", path)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func isClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
