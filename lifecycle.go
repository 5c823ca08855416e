package snaketongs

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Bridge owns the subprocess, its two pipes, the RemoteTable, and the
// designated exception-wrapper type (§2, §4.8). It is not safe for
// concurrent use from multiple host threads (§5).
type Bridge struct {
	id        uuid.UUID
	log       *logrus.Entry
	codec     codec
	transport *transport
	table     *remoteTable

	exceptionType *Proxy // the designated wrapped-host-exception remote type

	terminated bool // true once a clean termination handshake has completed
	destroyed  bool // true once the Go-level Bridge object has been torn down

	seq int64 // monotonically increasing frame counter, attached to every bridge send/receive log line
}

// Config carries the knobs for Spawn. Width chooses the integer packing
// size negotiated with the subprocess (§4.2); it must match what the
// subprocess's own codec uses. InterpreterPath names the interpreter
// binary; the PYTHON-equivalent environment variable named by
// InterpreterEnv takes precedence over it when set, and a default name is
// used when neither is set (§6, "External interfaces").
type Config struct {
	InterpreterPath string
	InterpreterEnv  string // name of the env var that overrides InterpreterPath; default "SNAKETONGS_PYTHON"
	Width           int    // 4 or 8; defaults to 8
	Args            []string
	Log             *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.InterpreterEnv == "" {
		c.InterpreterEnv = "SNAKETONGS_PYTHON"
	}
	if c.Width == 0 {
		c.Width = 8
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

func (c Config) resolveInterpreter() string {
	if v := os.Getenv(c.InterpreterEnv); v != "" {
		return v
	}
	if c.InterpreterPath != "" {
		return c.InterpreterPath
	}
	return "python3"
}

// Spawn launches the interpreter subprocess, negotiates the integer width,
// waits for the single '+' liveness byte, and constructs the designated
// exception type (§4.8, §6 "Startup handshake"). Subprocess spawning itself
// (fork/exec glue) is treated as an external collaborator; this is the
// minimal wiring needed to drive the bridge end-to-end.
func Spawn(cfg Config) (*Bridge, error) {
	cfg = cfg.withDefaults()
	interpreter := cfg.resolveInterpreter()

	hostToRemoteR, hostToRemoteW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("snaketongs: create outbound pipe: %w", err)
	}
	remoteToHostR, remoteToHostW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("snaketongs: create inbound pipe: %w", err)
	}

	// The subprocess is exec'd with three positional arguments: read-fd,
	// write-fd, integer-width-bytes (§6 "Subprocess launch"). ExtraFiles[0]
	// and [1] land on fd 3 and fd 4 respectively, after stdin/stdout/stderr.
	cmdArgs := append(append([]string{}, cfg.Args...), "3", "4", fmt.Sprintf("%d", cfg.Width))
	cmd := exec.Command(interpreter, cmdArgs...) //nolint:gosec // interpreter path is operator-controlled
	cmd.ExtraFiles = []*os.File{hostToRemoteR, remoteToHostW}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		hostToRemoteR.Close()
		hostToRemoteW.Close()
		remoteToHostR.Close()
		remoteToHostW.Close()
		return nil, fmt.Errorf("snaketongs: start subprocess: %w", err)
	}
	// The child owns its ends now; the parent only needs its own.
	hostToRemoteR.Close()
	remoteToHostW.Close()

	return newBridgeFromPipes(remoteToHostR, hostToRemoteW, cmd, cfg)
}

// newBridgeFromPipes builds a Bridge from an already-established pair of
// pipes (used by Spawn, and directly by tests against an in-process
// io.Pipe-backed stand-in for the subprocess — the same pattern as the
// teacher's bridge_test.go pipeConn helper).
func newBridgeFromPipes(r io.ReadCloser, w io.WriteCloser, cmd *exec.Cmd, cfg Config) (*Bridge, error) {
	id := uuid.New()
	log := cfg.Log.WithField("bridge_id", id)
	b := &Bridge{
		id:        id,
		log:       log,
		codec:     newCodec(cfg.Width),
		transport: newTransport(r, w, cmd, log),
		table:     newRemoteTable(),
	}

	var liveness [1]byte
	if err := b.transport.recv(liveness[:]); err != nil {
		return nil, fmt.Errorf("snaketongs: liveness handshake: %w", err)
	}
	if liveness[0] != '+' {
		return nil, fmt.Errorf("snaketongs: liveness handshake: unexpected byte %q", liveness[0])
	}
	b.log.Debug("bridge liveness handshake ok")

	typ, err := b.Global("type")
	if err != nil {
		return nil, fmt.Errorf("snaketongs: resolve type(): %w", err)
	}
	defer typ.Close()
	baseException, err := b.Global("BaseException")
	if err != nil {
		return nil, fmt.Errorf("snaketongs: resolve BaseException: %w", err)
	}
	defer baseException.Close()
	bases, err := b.Tuple(baseException)
	if err != nil {
		return nil, err
	}
	defer bases.Close()
	nameProxy, err := b.Str("_SnaketongsHostException")
	if err != nil {
		return nil, err
	}
	defer nameProxy.Close()
	dictType, err := b.Global("dict")
	if err != nil {
		return nil, err
	}
	defer dictType.Close()
	emptyDict, err := b.Call(dictType)
	if err != nil {
		return nil, err
	}
	defer emptyDict.Close()

	b.exceptionType, err = b.Call(typ, nameProxy, bases, emptyDict)
	if err != nil {
		return nil, fmt.Errorf("snaketongs: create exception wrapper type: %w", err)
	}

	b.log.Info("bridge running")
	return b, nil
}

// Terminate performs the clean termination handshake: it sends the final
// `r` frame carrying the magic sentinel, closes the write end, and waits
// for the child to exit with status 0 (§4.8, §6 "Termination handshake").
// After Terminate returns successfully, Terminated() is true and all
// outstanding (non-exception) proxy Close calls become no-ops.
func (b *Bridge) Terminate() error {
	if b.terminated {
		return nil
	}
	if err := b.issue(opReturn, int64(terminationSentinel), nil); err != nil {
		return err
	}
	if err := b.transport.flush(); err != nil {
		return err
	}
	err := b.transport.quit()
	b.table.clear()
	if err != nil {
		return err
	}
	b.terminated = true
	b.log.Debug("bridge terminated")
	return nil
}

// Terminated reports whether Terminate has completed successfully.
func (b *Bridge) Terminated() bool {
	return b.terminated
}

// Close is the destructor path (§4.8): it must not raise. It attempts a
// best-effort clean termination and otherwise closes the streams anyway,
// logging but swallowing any error.
func (b *Bridge) Close() {
	if b.destroyed {
		return
	}
	if !b.terminated {
		if err := b.Terminate(); err != nil {
			b.log.WithError(err).Warn("bridge: best-effort termination failed during close")
			_ = b.transport.quit()
		}
	}
	b.destroyed = true
}

// Stats reports simple introspection about the bridge's live state: how
// many RemoteTable cells are currently occupied (not on the free list) and
// whether the free list has any cells to reuse. Supplemental to the core
// spec, grounded in the teacher's small accessor methods on its Process
// type (Pid(), ExitCode()).
type Stats struct {
	TableSize  int
	FreeCells  bool
	Terminated bool
}

func (b *Bridge) Stats() Stats {
	occupied := 0
	for _, s := range b.table.slots {
		if s.kind != slotFree {
			occupied++
		}
	}
	return Stats{
		TableSize:  occupied,
		FreeCells:  b.table.any(),
		Terminated: b.terminated,
	}
}
