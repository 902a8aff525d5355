package progress

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFIFOServerRespondsToProgressCommand(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "rsnap.fifo")
	replyPath := filepath.Join(dir, "reply.fifo")

	require.NoError(t, unix.Mkfifo(replyPath, 0o600))

	rec := New(time.Now())
	rec.SetTotals(2, 4)

	srv := &FIFOServer{Path: reqPath, Record: rec, PollEvery: 20 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		_ = srv.Serve()
		close(done)
	}()

	// wait for the fifo to exist before writing into it
	require.Eventually(t, func() bool {
		info, err := os.Stat(reqPath)
		return err == nil && info.Mode()&os.ModeNamedPipe != 0
	}, time.Second, 10*time.Millisecond)

	replyCh := make(chan string, 1)
	go func() {
		f, err := os.OpenFile(replyPath, os.O_RDONLY, os.ModeNamedPipe)
		if err != nil {
			replyCh <- ""
			return
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		var out string
		for scanner.Scan() {
			out += scanner.Text() + "\n"
		}
		replyCh <- out
	}()

	writeCommand(t, reqPath, "progress "+replyPath+"\n")

	select {
	case out := <-replyCh:
		assert.Contains(t, out, "Phase:")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress reply")
	}

	rec.SetQuit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after quit")
	}
}

func writeCommand(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line)
	require.NoError(t, err)
}
