package report

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// SendmailSink delivers a report by piping an RFC 5322 message into the
// sendmail binary, the same subprocess-as-transport idiom the sync worker
// uses for rsync.
type SendmailSink struct {
	Program string // defaults to "sendmail"
	Exec    func(program string, stdin []byte) error
}

// Send builds a minimal message (From/To/Subject/body) and pipes it to
// sendmail -t.
func (s *SendmailSink) Send(from, to, subject, body string) error {
	if to == "" {
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\n", from)
	fmt.Fprintf(&msg, "To: %s\n", to)
	fmt.Fprintf(&msg, "Subject: %s\n\n", subject)
	msg.WriteString(body)

	if s.Exec != nil {
		return s.Exec(s.program(), msg.Bytes())
	}

	cmd := exec.Command(s.program(), "-t")
	cmd.Stdin = bytes.NewReader(msg.Bytes())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "pipe report to sendmail")
	}
	return nil
}

func (s *SendmailSink) program() string {
	if s.Program == "" {
		return "sendmail"
	}
	return s.Program
}
