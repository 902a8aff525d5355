package progress

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FIFOServer exposes a Record over a named pipe: an out-of-band `progress
// <output-fifo-path>` request gets a human-readable report written back.
type FIFOServer struct {
	Path      string
	Record    *Record
	PollEvery time.Duration
}

// Serve creates the fifo (mode 0777) if absent, opens it O_RDWR so the read
// end never observes EOF between requests, then polls for newline-
// delimited commands until the record's quit flag is set. The only
// recognized verb is "progress <reply-fifo-path>"; anything else is
// ignored.
func (s *FIFOServer) Serve() error {
	if err := unix.Mkfifo(s.Path, 0o777); err != nil && !os.IsExist(err) {
		return errors.Wrapf(err, "mkfifo %s", s.Path)
	}

	f, err := os.OpenFile(s.Path, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		return errors.Wrapf(err, "open fifo %s", s.Path)
	}
	defer f.Close()

	poll := s.PollEvery
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	lines := make(chan string)
	go s.readLoop(f, lines)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for !s.Record.Quit() {
		select {
		case line := <-lines:
			s.handle(line)
		case <-ticker.C:
		}
	}
	return nil
}

// readLoop feeds newline-delimited commands from the fifo into lines. It
// exits when the underlying reader errors (fifo closed on teardown).
func (s *FIFOServer) readLoop(f *os.File, lines chan<- string) {
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines <- strings.TrimSpace(line)
		}
		if err != nil {
			return
		}
	}
}

func (s *FIFOServer) handle(line string) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "progress" {
		return
	}
	replyPath := fields[1]

	out, err := os.OpenFile(replyPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		return
	}
	defer out.Close()

	_, _ = out.WriteString(s.Record.Report(time.Now()))
}
