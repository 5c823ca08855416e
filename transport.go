package snaketongs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// errTransportClosed is the sentinel latched into a transport after any I/O
// failure; every later operation fails fast with it wrapped, mirroring the
// teacher's errBridgeClosed latch in internal/gcs/bridge.go.
var errTransportClosed = errors.New("snaketongs: transport closed")

// transport is the framed byte pipe to and from the subprocess (C1). It
// never interprets opcodes; it only moves bytes and tracks liveness. All
// four operations are blocking and none expose partial-success states: once
// an error is latched, send/flush/recv all return it.
type transport struct {
	w   *bufio.Writer
	r   *bufio.Reader
	wc  io.WriteCloser
	rc  io.ReadCloser
	cmd *exec.Cmd // nil when the transport was built from raw pipes (tests)
	log *logrus.Entry

	err error // sticky; set on first failure
}

func newTransport(r io.ReadCloser, w io.WriteCloser, cmd *exec.Cmd, log *logrus.Entry) *transport {
	return &transport{
		w:   bufio.NewWriter(w),
		r:   bufio.NewReader(r),
		wc:  w,
		rc:  r,
		cmd: cmd,
		log: log,
	}
}

// fail latches err as the transport's sticky failure (first failure wins)
// and logs it once, mirroring the teacher's "bridge forcibly terminating"
// error-level log on a dead connection (internal/gcs/bridge.go).
func (t *transport) fail(err error) error {
	if t.err == nil {
		t.err = fmt.Errorf("%w: %w", errTransportClosed, err)
		t.log.WithError(err).Error("transport failed")
	}
	return t.err
}

// send buffers b for the next flush. Data that does not fit in the free
// buffer space is written through to the pipe, which can block.
func (t *transport) send(b []byte) error {
	if t.err != nil {
		return t.err
	}
	if _, err := t.w.Write(b); err != nil {
		return t.fail(fmt.Errorf("snaketongs: transport write: %w", err))
	}
	return nil
}

// flush pushes any buffered sends to the pipe. The Dispatcher must call this
// before every blocking recv to avoid deadlocking against a remote that is
// waiting for the command it hasn't received yet.
func (t *transport) flush() error {
	if t.err != nil {
		return t.err
	}
	if err := t.w.Flush(); err != nil {
		return t.fail(fmt.Errorf("snaketongs: transport flush: %w", err))
	}
	return nil
}

// recv reads exactly len(b) bytes, failing if the stream ends early.
func (t *transport) recv(b []byte) error {
	if t.err != nil {
		return t.err
	}
	if _, err := io.ReadFull(t.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return t.fail(fmt.Errorf("snaketongs: transport read: %w", err))
	}
	return nil
}

// quit closes both directions of the pipe and waits for the subprocess,
// returning success only if it exited with status 0. It does not itself
// latch t.err on a clean exit, so a bridge can still be queried about being
// "terminated" afterwards without tripping the failure path.
func (t *transport) quit() error {
	var closeErr error
	if err := t.wc.Close(); err != nil {
		closeErr = err
	}
	if err := t.rc.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if t.cmd == nil {
		return closeErr
	}
	if err := t.cmd.Wait(); err != nil {
		return fmt.Errorf("snaketongs: subprocess exit: %w", err)
	}
	return closeErr
}
