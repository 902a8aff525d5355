package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

// SMTPConfig addresses a direct-SMTP alert relay, an alternative to the
// sendmail-subprocess report path for hosts with no local MTA.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	To       []string
	Username string
	Password string
}

// SMTPSender delivers a RunSummary as a plaintext alert over SMTP,
// sitting alongside the webhook Client as another optional C15 alert sink.
type SMTPSender struct {
	Config SMTPConfig
	Dial   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds a sender using net/smtp.SendMail unless Dial is
// overridden for tests.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		Config: cfg,
		Dial:   smtp.SendMail,
	}
}

// Send delivers summary as a short plaintext alert. A blank Addr is a
// configured no-op, matching the webhook Client's blank-URL behavior.
func (s *SMTPSender) Send(summary RunSummary) error {
	if s.Config.Addr == "" {
		return nil
	}
	if len(s.Config.To) == 0 {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", s.Config.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(s.Config.To, ", "))
	fmt.Fprintf(&body, "Subject: rsnap alert: run %s, %d/%d hosts failed\r\n\r\n", summary.RunID, summary.HostsFailed, summary.HostsTotal)
	fmt.Fprintf(&body, "Run %s\nStarted: %s\nFinished: %s\nDuration: %.0fs\nHosts: %d total, %d failed\nJobs: %d\nBytes sent: %d MB\n",
		summary.RunID, summary.StartedAt.Format("2006-01-02T15:04:05"), summary.FinishedAt.Format("2006-01-02T15:04:05"),
		summary.DurationSeconds, summary.HostsTotal, summary.HostsFailed, summary.JobsTotal, summary.BytesSentMB)
	if len(summary.FailedHostnames) > 0 {
		fmt.Fprintf(&body, "Failed hosts: %s\n", strings.Join(summary.FailedHostnames, ", "))
	}
	if summary.ReportExcerpt != "" {
		fmt.Fprintf(&body, "\n%s\n", summary.ReportExcerpt)
	}

	var auth smtp.Auth
	if s.Config.Username != "" {
		host, _, _ := strings.Cut(s.Config.Addr, ":")
		auth = smtp.PlainAuth("", s.Config.Username, s.Config.Password, host)
	}

	if err := s.Dial(s.Config.Addr, auth, s.Config.From, s.Config.To, []byte(body.String())); err != nil {
		return errors.Wrapf(err, "send SMTP alert via %s", s.Config.Addr)
	}
	return nil
}
