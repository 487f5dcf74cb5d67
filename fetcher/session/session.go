// Package session speaks the NUL framed upstream protocol. A session is episodic: it is
// opened, authenticated, used by one goroutine for one batch and closed.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"tzlogs/pkg/config"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
)

const (
	frameEnd       = '\x00'
	readChunk      = time.Second
	keepAliveAfter = 15 * time.Second
	tcpKeepAlive   = 30 * time.Second
	drainWindow    = 3 * time.Second
)

// Config is the identity and timing of a session.
type Config struct {
	Addr        string
	Login       string
	Key         string
	ClientIP    string
	ClientV     string
	ClientV2    string
	DialTimeout time.Duration
	HardTimeout time.Duration
}

// ConfigFrom builds the session settings from the upstream configuration.
func ConfigFrom(cfg config.UpstreamConfig) Config {
	return Config{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Login:       cfg.Login,
		Key:         cfg.Key,
		ClientIP:    cfg.ClientIP,
		ClientV:     cfg.ClientV,
		ClientV2:    cfg.ClientV2,
		DialTimeout: cfg.DialTimeout,
		HardTimeout: cfg.HardTimeout,
	}
}

// Session is one authenticated connection.
type Session struct {
	cfg    Config
	conn   net.Conn
	logger *logger.NewLogger

	pending      []byte
	lastActivity time.Time
	now          func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Open dials, logs in and drains the greeting of the server.
func Open(ctx context.Context, cfg Config, log *logger.NewLogger) (*Session, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: tcpKeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, failures.Wrap(failures.KindNetwork, "session.Open", err)
	}

	s := &Session{cfg: cfg, conn: conn, logger: log, now: time.Now}
	if err := s.login(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) login(ctx context.Context) error {
	frame := fmt.Sprintf(`<LOGIN v3="%s" lang="ru" v2="%s" v="%s" p="%s" l="%s"/>`,
		attr(s.cfg.ClientIP), attr(s.cfg.ClientV2), attr(s.cfg.ClientV), attr(s.cfg.Key), attr(s.cfg.Login))
	if err := s.send(frame); err != nil {
		return err
	}

	// Wait for the verdict of the server.
	deadline := s.now().Add(s.cfg.HardTimeout)
	for {
		reply, err := s.readFrame(ctx, deadline)
		if err != nil {
			if failures.Is(err, failures.KindTimeout) {
				return failures.Newf(failures.KindNetwork, "session.login", "no login reply within %s", s.cfg.HardTimeout)
			}
			return err
		}
		switch {
		case bytes.HasPrefix(reply, []byte("<ERROR")):
			return failures.Newf(failures.KindAuth, "session.login", "login %s rejected: %s", s.cfg.Login, reply)
		case bytes.HasPrefix(reply, []byte("<OK")):
			return s.greet(ctx)
		}
	}
}

// greet asks for the player parameters and drops everything the server pushes after login.
func (s *Session) greet(ctx context.Context) error {
	if err := s.send("<GETME/>"); err != nil {
		return err
	}

	deadline := s.now().Add(drainWindow)
	for {
		reply, err := s.readFrame(ctx, deadline)
		if failures.Is(err, failures.KindTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.HasPrefix(reply, []byte("<MYPARAM")) {
			return nil
		}
	}
}

// FetchBlook requests the log of one battle and returns the BLOOK element.
func (s *Session) FetchBlook(ctx context.Context, battleID int64) ([]byte, error) {
	if err := s.keepAlive(); err != nil {
		return nil, err
	}
	if err := s.send(fmt.Sprintf(`<POST t="//blook %d"/>`, battleID)); err != nil {
		return nil, err
	}
	if err := s.send("<GETMYBATTLE/>"); err != nil {
		return nil, err
	}

	deadline := s.now().Add(s.cfg.HardTimeout)
	var acc []byte
	for {
		frame, err := s.readFrame(ctx, deadline)
		if err != nil {
			return nil, err
		}
		acc = append(acc, frame...)

		// Skip unrelated pushes until the BLOOK starts.
		start := bytes.Index(acc, []byte("<BLOOK"))
		if start < 0 {
			acc = acc[:0]
			continue
		}

		end := bytes.Index(acc[start:], []byte("</BLOOK>"))
		if end < 0 {
			continue
		}
		blook := clean(acc[start : start+end+len("</BLOOK>")])
		if got, ok := headerBattleID(blook); ok && got != battleID {
			s.logger.Warn("upstream answered another battle", "requested", battleID, "received", got)
		}
		return blook, nil
	}
}

// KeepAlive sends a no-op frame.
func (s *Session) KeepAlive() error {
	return s.send("<N/>")
}

// keepAlive pings the server when the session has been idle too long.
func (s *Session) keepAlive() error {
	if s.now().Sub(s.lastActivity) < keepAliveAfter {
		return nil
	}
	return s.KeepAlive()
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) send(frame string) error {
	if err := s.conn.SetWriteDeadline(s.now().Add(s.cfg.HardTimeout)); err != nil {
		return classify("session.send", err)
	}
	if _, err := s.conn.Write(append([]byte(frame), frameEnd)); err != nil {
		return classify("session.send", err)
	}
	s.lastActivity = s.now()
	return nil
}

// readFrame returns the next NUL terminated frame, reading in one second chunks until
// deadline.
func (s *Session) readFrame(ctx context.Context, deadline time.Time) ([]byte, error) {
	buf := make([]byte, 32*1024)
	for {
		if i := bytes.IndexByte(s.pending, frameEnd); i >= 0 {
			frame := s.pending[:i]
			s.pending = s.pending[i+1:]
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			return frame, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, failures.Wrap(failures.KindAbort, "session.read", err)
		}
		now := s.now()
		if !now.Before(deadline) {
			return nil, failures.Newf(failures.KindTimeout, "session.read", "no complete reply within the hard timeout")
		}

		chunk := now.Add(readChunk)
		if chunk.After(deadline) {
			chunk = deadline
		}
		if err := s.conn.SetReadDeadline(chunk); err != nil {
			return nil, classify("session.read", err)
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.pending = append(s.pending, buf[:n]...)
			s.lastActivity = s.now()
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, classify("session.read", err)
		}
	}
}

// classify tags connection level failures as transient network errors.
func classify(op string, err error) error {
	if IsTransient(err) {
		return failures.Wrap(failures.KindNetwork, op, err)
	}
	return failures.Wrap(failures.KindNetwork, op, fmt.Errorf("connection failure: %w", err))
}

// IsTransient reports whether err is a dropped or reset connection.
func IsTransient(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}

var battleIDAttr = regexp.MustCompile(`(?i)<battle\b[^>]*?\s(?:i|id|battle_id)\s*=\s*"(\d+)"`)

func headerBattleID(blook []byte) (int64, bool) {
	m := battleIDAttr.FindSubmatch(blook)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(string(m[1]), 10, 64)
	return id, err == nil
}

// clean removes the NUL and unit separator bytes the server interleaves.
func clean(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\x00' || c == '\x1f' {
			continue
		}
		out = append(out, c)
	}
	return out
}

var attrEscaper = regexp.MustCompile(`[&"<>]`)

func attr(v string) string {
	return attrEscaper.ReplaceAllStringFunc(v, func(c string) string {
		switch c {
		case "&":
			return "&amp;"
		case `"`:
			return "&quot;"
		case "<":
			return "&lt;"
		default:
			return "&gt;"
		}
	})
}
