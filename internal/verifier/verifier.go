package verifier

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"time"

	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
	"mailprobe/internal/proxy"
)

// Config is the verification policy surface.
type Config struct {
	EnvelopeSender string
	HeloName       string
	SMTPTimeout    time.Duration
	MaxAttempts    int

	// Backoff holds the base delay before attempt 2, 3, ... The last
	// entry is reused when MaxAttempts outgrows the table.
	Backoff        []time.Duration
	JitterFraction float64

	// Proxy, when set, routes each verify's sessions through one pinned
	// proxy from the rotation. nil dials direct.
	Proxy *proxy.Manager

	// Dial overrides the session dialer. Test hook; takes precedence
	// over Proxy.
	Dial lookup.DialFunc
}

// DefaultConfig returns the stock policy: 15 s per protocol step, three
// attempts backed off 1 s / 3 s / 10 s with ±30 % jitter.
func DefaultConfig() Config {
	return Config{
		EnvelopeSender: "verify@mta1.mailprobe.io",
		HeloName:       "mta1.mailprobe.io",
		SMTPTimeout:    15 * time.Second,
		MaxAttempts:    3,
		Backoff:        []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
		JitterFraction: 0.3,
	}
}

// Verifier orchestrates MX resolution, host iteration and the retry
// policy for single addresses. Safe for concurrent use; each Verify call
// owns all of its state and at most one TCP socket is open per call at
// any instant.
type Verifier struct {
	cfg      Config
	resolver *lookup.Resolver

	// sleep waits out the backoff between attempts and returns early with
	// ctx's error when the caller cancels.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, resolver *lookup.Resolver) *Verifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	return &Verifier{cfg: cfg, resolver: resolver, sleep: sleepCtx}
}

// Verify resolves the address's domain, dials its MX hosts in priority
// order and classifies the server's answer. It is total: every input
// returns a Result, never an error. Definitive outcomes (valid, invalid,
// catch_all) return immediately; anything transient is retried up to
// MaxAttempts with jittered backoff between attempts.
func (v *Verifier) Verify(ctx context.Context, email string) models.Result {
	start := time.Now()
	finish := func(r models.Result) models.Result {
		r.Email = email
		r.TimeTakenMs = time.Since(start).Milliseconds()
		return r
	}

	domain, ok := splitDomain(email)
	if !ok {
		return finish(models.Result{
			Status:   models.StatusUnknown,
			MXServer: "error",
			Attempts: 1,
			Reason:   "Invalid email format",
		})
	}

	records := v.resolver.ResolveMX(ctx, domain)
	if len(records) == 0 {
		return finish(models.Result{
			Status:   models.StatusInvalid,
			SMTPCode: 550,
			MXServer: "No MX",
			Attempts: 1,
			Reason:   "No MX records for domain",
		})
	}

	sessCfg := lookup.SessionConfig{
		HeloName: v.cfg.HeloName,
		MailFrom: v.cfg.EnvelopeSender,
		Timeout:  v.cfg.SMTPTimeout,
		Dial:     v.sessionDial(),
	}

	var last models.Result
	for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := v.sleep(ctx, v.jittered(v.backoffFor(attempt))); err != nil {
				return finish(cancelledResult(last.MXServer, attempt))
			}
		}

		verdict, hadVerdict := models.Result{}, false
		var lastHost string
		var lastErr error

		for _, mx := range records {
			lastHost = mx.Exchange
			sr, err := lookup.RunSession(ctx, mx.Exchange, email, sessCfg)
			if err != nil {
				if ctx.Err() != nil {
					return finish(cancelledResult(mx.Exchange, attempt))
				}
				// Network failure: the next host may still answer.
				lastErr = err
				continue
			}
			verdict = resultFromSession(mx.Exchange, attempt, sr)
			hadVerdict = true
			break
		}

		if !hadVerdict {
			// Every host on this attempt failed below the protocol.
			verdict = models.Result{
				Status:           models.StatusUnknown,
				MXServer:         lastHost,
				Attempts:         attempt,
				IsTemporaryError: true,
				Reason:           "All MX hosts unreachable: " + lastErr.Error(),
			}
		}

		if verdict.Status.Definitive() {
			return finish(verdict)
		}
		last = verdict
	}

	last.Attempts = v.cfg.MaxAttempts
	return finish(last)
}

// sessionDial pins one proxy for all sessions of this verify, matching
// how a real sender's egress looks to the remote host.
func (v *Verifier) sessionDial() lookup.DialFunc {
	if v.cfg.Dial != nil {
		return v.cfg.Dial
	}
	if v.cfg.Proxy == nil {
		return nil
	}
	mgr := v.cfg.Proxy
	pinned := mgr.Next()
	timeout := v.cfg.SMTPTimeout
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return mgr.DialContext(ctx, network, addr, timeout, pinned)
	}
}

func (v *Verifier) backoffFor(attempt int) time.Duration {
	idx := attempt - 2
	if idx >= len(v.cfg.Backoff) {
		idx = len(v.cfg.Backoff) - 1
	}
	return v.cfg.Backoff[idx]
}

// jittered spreads a base delay by ±JitterFraction, uniformly, so a fleet
// of retries does not hammer a greylisting host in lockstep.
func (v *Verifier) jittered(d time.Duration) time.Duration {
	f := v.cfg.JitterFraction
	if f <= 0 {
		return d
	}
	scale := 1 + (rand.Float64()*2-1)*f
	return time.Duration(float64(d) * scale)
}

func resultFromSession(host string, attempt int, sr *lookup.SessionResult) models.Result {
	var verdict Verdict
	if sr.RcptDone {
		verdict = Classify(sr.Code, sr.Message)
	} else {
		verdict = classifyBlocked(sr.State, sr.Code, sr.Message)
	}
	return models.Result{
		Status:           verdict.Status,
		SMTPCode:         verdict.Code,
		MXServer:         host,
		Attempts:         attempt,
		IsCatchAll:       verdict.IsCatchAll,
		IsTemporaryError: verdict.IsTemporary,
		Reason:           verdict.Reason,
	}
}

func cancelledResult(host string, attempt int) models.Result {
	if host == "" {
		host = "error"
	}
	return models.Result{
		Status:   models.StatusUnknown,
		MXServer: host,
		Attempts: attempt,
		Reason:   "cancelled",
	}
}

// splitDomain extracts the lowercased domain. Exactly one '@' with
// non-empty halves is required; anything else is InvalidFormat.
func splitDomain(email string) (string, bool) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return strings.ToLower(parts[1]), true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
