package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RequestReport implements the client side of the fifo IPC protocol (§6):
// create a response fifo, send "progress <response-fifo-path>\n" on the
// server's request fifo, read back the free-form report, clean up.
func RequestReport(requestFifoPath string, timeout time.Duration) (string, error) {
	replyPath := filepath.Join(os.TempDir(), fmt.Sprintf("rsnap.progress.%d", os.Getpid()))
	if err := unix.Mkfifo(replyPath, 0o600); err != nil && !os.IsExist(err) {
		return "", errors.Wrapf(err, "mkfifo %s", replyPath)
	}
	defer os.Remove(replyPath)

	req, err := os.OpenFile(requestFifoPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		return "", errors.Wrapf(err, "open request fifo %s", requestFifoPath)
	}
	if _, err := req.WriteString("progress " + replyPath + "\n"); err != nil {
		req.Close()
		return "", errors.Wrap(err, "write progress request")
	}
	req.Close()

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := os.OpenFile(replyPath, os.O_RDONLY, os.ModeNamedPipe)
		if err != nil {
			done <- result{err: errors.Wrapf(err, "open reply fifo %s", replyPath)}
			return
		}
		defer reply.Close()
		data, err := io.ReadAll(reply)
		done <- result{body: string(data), err: errors.Wrap(err, "read reply fifo")}
	}()

	select {
	case r := <-done:
		return r.body, r.err
	case <-time.After(timeout):
		return "", errors.Errorf("timed out waiting for progress reply on %s", replyPath)
	}
}
