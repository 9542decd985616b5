package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Session states, recorded in SessionResult and SessionError so the
// caller knows where a dialogue ended.
const (
	StateConnect  = "connect"
	StateEhlo     = "ehlo"
	StateHelo     = "helo"
	StateMailFrom = "mail_from"
	StateRcptTo   = "rcpt_to"
)

// DialFunc opens the TCP connection for a session. Injectable for tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SessionConfig configures one verification dialogue.
type SessionConfig struct {
	// HeloName is the FQDN announced in EHLO/HELO. It should match the
	// domain of MailFrom or strict receivers will refuse the envelope.
	HeloName string

	// MailFrom is the envelope sender. The null sender is acceptable;
	// pass the empty string and "MAIL FROM:<>" is sent.
	MailFrom string

	// Timeout is armed before every network wait, not once per session.
	Timeout time.Duration

	// Dial replaces the direct TCP dialer when set.
	Dial DialFunc
}

// SessionResult is the outcome of a dialogue that obtained at least one
// server reply. RcptDone is true when Code/Message hold the RCPT TO
// answer; otherwise the server refused at State and the dialogue was cut
// short there.
type SessionResult struct {
	State    string
	Code     int
	Message  string
	RcptDone bool
}

// SessionError is a network-level failure: connect refused, timeout,
// unexpected EOF, runaway or malformed reply data. The caller may treat
// it as grounds to try the next host.
type SessionError struct {
	State   string
	Timeout bool
	Err     error
}

func (e *SessionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timeout during %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.State, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// RunSession plays one verification dialogue against host:25:
// greeting, EHLO (falling back to HELO exactly once on 500/502),
// MAIL FROM, RCPT TO, QUIT. It never pipelines — each command is written
// only after the previous reply parsed complete — and it never sends
// DATA, so nothing reaches the recipient's mailbox. A single call plays
// one dialogue to completion or failure; retrying is the caller's job.
//
// The connection is closed on every exit path.
func RunSession(ctx context.Context, host, recipient string, cfg SessionConfig) (*SessionResult, error) {
	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: cfg.Timeout}
			return d.DialContext(ctx, network, addr)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	conn, err := dial(dialCtx, "tcp", net.JoinHostPort(host, "25"))
	cancel()
	if err != nil {
		return nil, &SessionError{State: StateConnect, Timeout: isTimeout(err), Err: err}
	}

	s := &session{conn: conn, cfg: cfg, ctx: ctx}
	defer conn.Close()

	// Unblock any in-flight read the moment the caller cancels, instead
	// of letting it run out the per-step timeout.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	// CONNECT: the server speaks first.
	reply, err := s.read(StateConnect)
	if err != nil {
		return nil, err
	}
	if reply.Code != 220 {
		return &SessionResult{State: StateConnect, Code: reply.Code, Message: reply.Message}, nil
	}

	// EHLO, with the legacy HELO fallback when the server does not
	// recognize extensions.
	reply, err = s.cmd(StateEhlo, "EHLO "+cfg.HeloName)
	if err != nil {
		return nil, err
	}
	switch reply.Code {
	case 250:
	case 500, 502:
		reply, err = s.cmd(StateHelo, "HELO "+cfg.HeloName)
		if err != nil {
			return nil, err
		}
		if reply.Code != 250 {
			return &SessionResult{State: StateHelo, Code: reply.Code, Message: reply.Message}, nil
		}
	default:
		return &SessionResult{State: StateEhlo, Code: reply.Code, Message: reply.Message}, nil
	}

	reply, err = s.cmd(StateMailFrom, "MAIL FROM:<"+cfg.MailFrom+">")
	if err != nil {
		return nil, err
	}
	if reply.Code != 250 {
		return &SessionResult{State: StateMailFrom, Code: reply.Code, Message: reply.Message}, nil
	}

	reply, err = s.cmd(StateRcptTo, "RCPT TO:<"+recipient+">")
	if err != nil {
		return nil, err
	}

	s.quit()
	return &SessionResult{State: StateRcptTo, Code: reply.Code, Message: reply.Message, RcptDone: true}, nil
}

type session struct {
	conn   net.Conn
	cfg    SessionConfig
	ctx    context.Context
	parser ReplyParser
	rbuf   [4096]byte
}

// deadline is the per-step deadline, clamped to the caller's context.
func (s *session) deadline() time.Time {
	d := time.Now().Add(s.cfg.Timeout)
	if ctxDeadline, ok := s.ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// cmd writes one CRLF-terminated command and reads its reply.
func (s *session) cmd(state, line string) (*Reply, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, &SessionError{State: state, Err: err}
	}
	if err := s.conn.SetWriteDeadline(s.deadline()); err != nil {
		return nil, &SessionError{State: state, Err: err}
	}
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return nil, &SessionError{State: state, Timeout: isTimeout(err), Err: err}
	}
	return s.read(state)
}

// read blocks until the parser holds one complete reply, feeding it from
// the socket with a fresh deadline armed before every read.
func (s *session) read(state string) (*Reply, error) {
	for {
		if r, err := s.parser.Next(); err != nil {
			return nil, &SessionError{State: state, Err: err}
		} else if r != nil {
			return r, nil
		}

		if err := s.ctx.Err(); err != nil {
			return nil, &SessionError{State: state, Err: err}
		}
		if err := s.conn.SetReadDeadline(s.deadline()); err != nil {
			return nil, &SessionError{State: state, Err: err}
		}

		n, readErr := s.conn.Read(s.rbuf[:])
		if n > 0 {
			if err := s.parser.Feed(s.rbuf[:n]); err != nil {
				return nil, &SessionError{State: state, Err: err}
			}
		}
		if readErr != nil {
			// The final chunk may have completed the reply.
			if r, err := s.parser.Next(); err == nil && r != nil {
				return r, nil
			}
			return nil, &SessionError{State: state, Timeout: isTimeout(readErr), Err: readErr}
		}
	}
}

// quit says goodbye on the happy path. Best effort: the verdict is
// already in hand, so errors here are ignored.
func (s *session) quit() {
	s.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.conn.Write([]byte("QUIT\r\n")); err != nil {
		return
	}
	s.conn.Read(s.rbuf[:])
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
