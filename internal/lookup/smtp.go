package lookup

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	DefaultHeloDomain  = "198-23-249-137-host.colocrossing.com"
	DefaultFromAddress = "postmaster@198-23-249-137-host.colocrossing.com"

	ConnectTimeout  = 10 * time.Second
	CommandTimeout  = 10 * time.Second
	TotalTimeout    = 45 * time.Second
	GreylistDelay   = 35 * time.Second
	GreylistRetries = 2
	SmtpPort        = 25

	// DefaultMaxSessions bounds concurrent SMTP connections. Mail providers
	// ban IPs that open too many sockets at once.
	DefaultMaxSessions = 5
)

// DialFunc opens the TCP connection for an SMTP session. proxy.Manager's
// DialContext satisfies it; the default is a plain net.Dialer.
type DialFunc func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error)

func directDial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, addr)
}

// SMTPClient performs RCPT-TO verification dialogues. It never sends DATA:
// the handshake stops once the server has said whether the mailbox exists,
// then QUITs.
type SMTPClient struct {
	HeloDomain  string
	FromAddress string
	Port        int

	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	TotalTimeout    time.Duration
	GreylistDelay   time.Duration
	GreylistRetries int

	Dial DialFunc

	sessions chan struct{}
}

// NewSMTPClient builds a client with the production defaults and the given
// session cap (0 means DefaultMaxSessions).
func NewSMTPClient(maxSessions int) *SMTPClient {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &SMTPClient{
		HeloDomain:      DefaultHeloDomain,
		FromAddress:     DefaultFromAddress,
		Port:            SmtpPort,
		ConnectTimeout:  ConnectTimeout,
		CommandTimeout:  CommandTimeout,
		TotalTimeout:    TotalTimeout,
		GreylistDelay:   GreylistDelay,
		GreylistRetries: GreylistRetries,
		Dial:            directDial,
		sessions:        make(chan struct{}, maxSessions),
	}
}

func (c *SMTPClient) acquire(ctx context.Context) error {
	select {
	case c.sessions <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SMTPClient) release() { <-c.sessions }

// VerifyOne runs a full dialogue for a single address:
// banner → EHLO (HELO fallback) → STARTTLS best effort → MAIL FROM → RCPT TO → QUIT.
// Greylisting deferrals are retried up to GreylistRetries times after
// GreylistDelay; the session slot is released between attempts so a greylist
// wait never starves other work.
func (c *SMTPClient) VerifyOne(ctx context.Context, email, mxHost string) models.SmtpResponse {
	for attempt := 0; attempt <= c.GreylistRetries; attempt++ {
		if err := c.acquire(ctx); err != nil {
			return models.SmtpResponse{Code: 0, Message: "connection timeout"}
		}
		resp := c.attempt(ctx, email, mxHost)
		c.release()

		if resp.IsGreylisted && attempt < c.GreylistRetries {
			logger.Info("greylisted, retrying",
				"mx", mxHost, "attempt", attempt+1, "delay", c.GreylistDelay.String())
			select {
			case <-time.After(c.GreylistDelay):
				continue
			case <-ctx.Done():
				return resp
			}
		}
		return resp
	}
	return models.SmtpResponse{Code: 0, Message: "max retries exceeded"}
}

// VerifyBatch checks several same-domain addresses over one connection,
// one RCPT TO per address after a single MAIL FROM. When the connection
// phase fails (banner, greeting, MAIL FROM) it degrades to per-address
// VerifyOne calls. Results line up with the input order.
func (c *SMTPClient) VerifyBatch(ctx context.Context, emails []string, mxHost string) []models.SmtpResponse {
	if len(emails) == 0 {
		return nil
	}

	if results, ok := c.tryBatch(ctx, emails, mxHost); ok {
		return results
	}

	logger.Debug("batch connection failed, falling back to individual checks", "mx", mxHost)
	out := make([]models.SmtpResponse, len(emails))
	for i, email := range emails {
		out[i] = c.VerifyOne(ctx, email, mxHost)
	}
	return out
}

// ProbeCatchAll asks the server to accept a random mailbox that cannot
// exist. 250 means the domain swallows everything; 5xx means unknown users
// are rejected; anything else is indeterminate.
func (c *SMTPClient) ProbeCatchAll(ctx context.Context, domain, mxHost string) *bool {
	probe := randomLocalPart() + "@" + domain
	resp := c.VerifyOne(ctx, probe, mxHost)

	if resp.Code == 250 {
		return models.Bool(true)
	}
	if resp.Code >= 500 && resp.Code < 600 {
		return models.Bool(false)
	}
	return nil
}

// randomLocalPart returns 15 hex characters, long enough that a collision
// with a real mailbox is not a realistic concern.
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

// attempt runs one complete dialogue. All failures come back as a response,
// never an error: a refused connection is a verification datapoint.
func (c *SMTPClient) attempt(ctx context.Context, email, mxHost string) models.SmtpResponse {
	hard := time.Now().Add(c.TotalTimeout)

	conn, err := c.Dial(ctx, "tcp", net.JoinHostPort(mxHost, strconv.Itoa(c.Port)), c.ConnectTimeout)
	if err != nil {
		return dialFailure(err)
	}
	defer conn.Close()

	s := &session{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), cmdTimeout: c.CommandTimeout, hard: hard}

	code, message := s.readResponse()
	if code != 220 {
		return c.timeboxed(ParseResponse(code, message), hard)
	}

	code, message = s.cmd("EHLO %s", c.HeloDomain)
	if code != 250 {
		code, message = s.cmd("HELO %s", c.HeloDomain)
		if code != 250 {
			return c.timeboxed(ParseResponse(code, message), hard)
		}
	}

	if strings.Contains(strings.ToUpper(message), "STARTTLS") {
		s.upgradeTLS(ctx, mxHost, c.HeloDomain)
	}

	code, message = s.cmd("MAIL FROM:<%s>", c.FromAddress)
	if code != 250 {
		return c.timeboxed(ParseResponse(code, message), hard)
	}

	code, message = s.cmd("RCPT TO:<%s>", email)

	s.quit()

	return c.timeboxed(ParseResponse(code, message), hard)
}

// timeboxed rewrites a dead-air response into the total-timeout message when
// the dialogue ran past its overall budget.
func (c *SMTPClient) timeboxed(resp models.SmtpResponse, hard time.Time) models.SmtpResponse {
	if resp.Code == 0 && time.Now().After(hard) {
		resp.Message = "total timeout exceeded"
	}
	return resp
}

func dialFailure(err error) models.SmtpResponse {
	msg := "connection error: " + err.Error()
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout(), errors.Is(err, context.DeadlineExceeded):
		msg = "connection timeout"
	case strings.Contains(err.Error(), "connection refused"):
		msg = "connection refused"
	}
	return models.SmtpResponse{Code: 0, Message: msg}
}

// tryBatch is the happy path of VerifyBatch. ok=false means the connection
// phase never reached MAIL FROM and the caller should degrade.
func (c *SMTPClient) tryBatch(ctx context.Context, emails []string, mxHost string) ([]models.SmtpResponse, bool) {
	if err := c.acquire(ctx); err != nil {
		return nil, false
	}
	defer c.release()

	conn, err := c.Dial(ctx, "tcp", net.JoinHostPort(mxHost, strconv.Itoa(c.Port)), c.ConnectTimeout)
	if err != nil {
		return nil, false
	}
	defer conn.Close()

	s := &session{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), cmdTimeout: c.CommandTimeout, hard: time.Now().Add(c.TotalTimeout)}

	code, message := s.readResponse()
	if code != 220 {
		return nil, false
	}

	code, message = s.cmd("EHLO %s", c.HeloDomain)
	if code != 250 {
		code, message = s.cmd("HELO %s", c.HeloDomain)
		if code != 250 {
			return nil, false
		}
	}

	if strings.Contains(strings.ToUpper(message), "STARTTLS") {
		s.upgradeTLS(ctx, mxHost, c.HeloDomain)
	}

	code, _ = s.cmd("MAIL FROM:<%s>", c.FromAddress)
	if code != 250 {
		return nil, false
	}

	results := make([]models.SmtpResponse, 0, len(emails))
	for _, email := range emails {
		code, message = s.cmd("RCPT TO:<%s>", email)
		results = append(results, ParseResponse(code, message))
	}

	s.quit()
	return results, true
}

// session is one open SMTP connection with its buffered reader/writer. The
// hard deadline caps the whole dialogue regardless of per-command budgets.
type session struct {
	conn       net.Conn
	r          *bufio.Reader
	w          *bufio.Writer
	cmdTimeout time.Duration
	hard       time.Time
}

func (s *session) deadline() time.Time {
	d := time.Now().Add(s.cmdTimeout)
	if !s.hard.IsZero() && s.hard.Before(d) {
		return s.hard
	}
	return d
}

// readResponse consumes one full SMTP reply. Multi-line replies continue
// while the 4th byte is '-' ("250-SIZE") and end on a space ("250 ok").
// Returns code 0 with a diagnostic message when the server goes silent.
func (s *session) readResponse() (int, string) {
	var lines []string
	for {
		_ = s.conn.SetReadDeadline(s.deadline())
		line, err := s.r.ReadString('\n')
		if err != nil {
			if line != "" {
				lines = append(lines, strings.TrimRight(line, "\r\n"))
			}
			if len(lines) > 0 {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, "read timeout"
			}
			return 0, "no response"
		}

		trimmed := strings.TrimRight(line, "\r\n")
		lines = append(lines, trimmed)
		if len(trimmed) < 4 || trimmed[3] == ' ' {
			break
		}
	}

	full := strings.Join(lines, "\n")
	last := lines[len(lines)-1]
	if len(last) < 3 {
		return 0, full
	}
	code, err := strconv.Atoi(last[:3])
	if err != nil {
		return 0, full
	}
	return code, full
}

func (s *session) cmd(format string, args ...interface{}) (int, string) {
	_ = s.conn.SetWriteDeadline(s.deadline())
	fmt.Fprintf(s.w, format+"\r\n", args...)
	if err := s.w.Flush(); err != nil {
		return 0, "write error: " + err.Error()
	}
	return s.readResponse()
}

// upgradeTLS attempts STARTTLS and re-greets on success. Verification only
// cares whether the mailbox exists, not who the server claims to be, so
// certificate checks are skipped. Failure leaves the session as it was.
func (s *session) upgradeTLS(ctx context.Context, mxHost, helo string) {
	code, _ := s.cmd("STARTTLS")
	if code != 220 {
		return
	}

	tconn := tls.Client(s.conn, &tls.Config{
		ServerName:         mxHost,
		InsecureSkipVerify: true,
	})
	if err := tconn.HandshakeContext(ctx); err != nil {
		logger.Debug("starttls handshake failed, continuing in plaintext", "mx", mxHost, "error", err.Error())
		return
	}

	s.conn = tconn
	s.r = bufio.NewReader(tconn)
	s.w = bufio.NewWriter(tconn)
	s.cmd("EHLO %s", helo)
}

func (s *session) quit() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprint(s.w, "QUIT\r\n")
	_ = s.w.Flush()
	_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _ = s.r.ReadString('\n')
}
