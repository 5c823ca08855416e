package snaketongs

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeValue is what the fakeInterpreter stores per remote index.
type fakeValue struct {
	tag   string // "", "type-ctor", "dict-ctor", "isinstance-ctor", "getattr-ctor", "getitem-ctor", "dict-instance", "exc-type", "exc-instance", "host-wrapper", "host-function", "args-tuple", "obj"
	i     int64  // int payload; HostIndex for host-wrapper/host-function/exc-instance/args-tuple
	typ   int64  // for exc-instance, the remote index of the exc-type value that constructed it
	b     []byte
	s     string
	elems []int64
}

// fakeInterpreter is a minimal, single-threaded stand-in for the remote
// scripting interpreter — just enough to drive newBridgeFromPipes's startup handshake
// and exercise ProxyOps end to end, including reentrant calls back into
// the host. It mirrors the shape of the teacher's bridge_test.go reflector:
// a goroutine reading frames off one end of a pair of io.Pipes and replying
// on the other, synchronously, one frame at a time.
type fakeInterpreter struct {
	width int
	r     io.Reader
	w     io.Writer
	vals  map[int64]fakeValue
	next  int64
}

func newFakeInterpreter(r io.Reader, w io.Writer, width int) *fakeInterpreter {
	return &fakeInterpreter{width: width, r: r, w: w, vals: map[int64]fakeValue{}}
}

func (f *fakeInterpreter) putInt(buf []byte, v int64) {
	if f.width == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	} else {
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
}

func (f *fakeInterpreter) getInt(buf []byte) int64 {
	if f.width == 4 {
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	}
	return int64(binary.LittleEndian.Uint64(buf))
}

func (f *fakeInterpreter) readInt() (int64, error) {
	buf := make([]byte, f.width)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return 0, err
	}
	return f.getInt(buf), nil
}

func (f *fakeInterpreter) readFrameHeader() (opcode, int64, error) {
	var opByte [1]byte
	if _, err := io.ReadFull(f.r, opByte[:]); err != nil {
		return 0, 0, err
	}
	arg, err := f.readInt()
	if err != nil {
		return 0, 0, err
	}
	return opcode(opByte[0]), arg, nil
}

func (f *fakeInterpreter) store(v fakeValue) int64 {
	idx := f.next
	f.next++
	f.vals[idx] = v
	return idx
}

func (f *fakeInterpreter) writeFrame(op byte, arg int64, payload []byte) error {
	hdr := make([]byte, 1+f.width)
	hdr[0] = op
	f.putInt(hdr[1:], arg)
	if _, err := f.w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := f.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// handleFrame processes exactly one non-terminal frame (a command issued by
// the host), writing its reply, EXCEPT for opReturn/opException which are
// replies rather than commands and are reported back to the caller instead.
func (f *fakeInterpreter) handleFrame(op opcode, arg int64) (terminal bool, terminalArg int64, isException bool, err error) {
	switch op {
	case opReturn:
		return true, arg, false, nil
	case opException:
		return true, arg, true, nil
	case opMakeInt:
		idx := f.store(fakeValue{i: arg})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opMakeStr:
		buf := make([]byte, arg)
		if _, err := io.ReadFull(f.r, buf); err != nil {
			return false, 0, false, err
		}
		idx := f.store(fakeValue{s: string(buf)})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opMakeBytes:
		buf := make([]byte, arg)
		if _, err := io.ReadFull(f.r, buf); err != nil {
			return false, 0, false, err
		}
		idx := f.store(fakeValue{b: buf})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opMakeTuple:
		count := int(arg)
		elems := make([]int64, count)
		for i := 0; i < count; i++ {
			v, err := f.readInt()
			if err != nil {
				return false, 0, false, err
			}
			elems[i] = v
		}
		idx := f.store(fakeValue{elems: elems})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opGlobal:
		buf := make([]byte, arg)
		if _, err := io.ReadFull(f.r, buf); err != nil {
			return false, 0, false, err
		}
		name := string(buf)
		tag := ""
		switch name {
		case "type":
			tag = "type-ctor"
		case "dict":
			tag = "dict-ctor"
		case "isinstance":
			tag = "isinstance-ctor"
		case "getattr":
			tag = "getattr-ctor"
		case "operator.getitem":
			tag = "getitem-ctor"
		}
		idx := f.store(fakeValue{tag: tag, s: name})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opWrap:
		idx := f.store(fakeValue{tag: "host-wrapper", i: arg})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opLambda:
		wrapper := f.vals[arg]
		idx := f.store(fakeValue{tag: "host-function", i: wrapper.i})
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opDup:
		idx := f.store(f.vals[arg])
		return false, 0, false, f.writeFrame('r', idx, nil)
	case opGetInt:
		return false, 0, false, f.writeFrame('r', f.vals[arg].i, nil)
	case opGetBytes:
		b := f.vals[arg].b
		return false, 0, false, f.writeFrame('r', int64(len(b)), b)
	case opDrop:
		delete(f.vals, arg)
		return false, 0, false, nil
	case opCall:
		argCount := int(arg)
		fnIdx, err := f.readInt()
		if err != nil {
			return false, 0, false, err
		}
		argIdx := make([]int64, argCount)
		for i := range argIdx {
			v, err := f.readInt()
			if err != nil {
				return false, 0, false, err
			}
			argIdx[i] = v
		}
		return false, 0, false, f.serviceCall(fnIdx, argIdx)
	default:
		return false, 0, false, &protocolError{detail: "fakeInterpreter: unhandled opcode"}
	}
}

// serviceCall replies to an opCall command. Calling a "host-function" value
// reenters the host via an inbound 'c' frame and forwards whatever the host
// replies with — this is what exercises the exception-tunneling and
// reentrancy paths in tests.
func (f *fakeInterpreter) serviceCall(fnIdx int64, argIdx []int64) error {
	fn := f.vals[fnIdx]
	switch fn.tag {
	case "dict-ctor":
		return f.writeFrame('r', f.store(fakeValue{tag: "dict-instance"}), nil)
	case "type-ctor":
		return f.writeFrame('r', f.store(fakeValue{tag: "exc-type"}), nil)
	case "exc-type":
		wrapper := f.vals[argIdx[0]]
		idx := f.store(fakeValue{tag: "exc-instance", i: wrapper.i, typ: fnIdx})
		return f.writeFrame('r', idx, nil)
	case "isinstance-ctor":
		obj := f.vals[argIdx[0]]
		var isInst int64
		if obj.tag == "exc-instance" && obj.typ == argIdx[1] {
			isInst = 1
		}
		return f.writeFrame('r', f.store(fakeValue{i: isInst}), nil)
	case "getattr-ctor":
		obj := f.vals[argIdx[0]]
		name := f.vals[argIdx[1]].s
		if obj.tag == "exc-instance" && name == "args" {
			return f.writeFrame('r', f.store(fakeValue{tag: "args-tuple", i: obj.i}), nil)
		}
		return f.writeFrame('r', f.store(fakeValue{tag: "obj"}), nil)
	case "getitem-ctor":
		container := f.vals[argIdx[0]]
		if container.tag == "args-tuple" {
			return f.writeFrame('r', f.store(fakeValue{i: container.i}), nil)
		}
		return f.writeFrame('r', f.store(fakeValue{tag: "obj"}), nil)
	case "host-function":
		if err := f.writeFrame('c', fn.i, nil); err != nil {
			return err
		}
		countBuf := make([]byte, f.width)
		f.putInt(countBuf, int64(len(argIdx)))
		if _, err := f.w.Write(countBuf); err != nil {
			return err
		}
		for _, a := range argIdx {
			buf := make([]byte, f.width)
			f.putInt(buf, a)
			if _, err := f.w.Write(buf); err != nil {
				return err
			}
		}
		op, retArg, isExc, err := f.awaitTerminal()
		_ = op
		if err != nil {
			return err
		}
		if isExc {
			return f.writeFrame('e', retArg, nil)
		}
		return f.writeFrame('r', retArg, nil)
	default:
		return f.writeFrame('r', f.store(fakeValue{tag: "obj"}), nil)
	}
}

// awaitTerminal services any nested command frames (e.g. the host wrapping
// and constructing its exception-tunnel instance while it builds an `e`
// reply) until the terminal r/e for the command we just issued arrives.
func (f *fakeInterpreter) awaitTerminal() (opcode, int64, bool, error) {
	for {
		op, arg, err := f.readFrameHeader()
		if err != nil {
			return 0, 0, false, err
		}
		terminal, termArg, isExc, err := f.handleFrame(op, arg)
		if err != nil {
			return 0, 0, false, err
		}
		if terminal {
			return op, termArg, isExc, nil
		}
	}
}

// run services frames until the host sends the termination sentinel or the
// pipe closes.
func (f *fakeInterpreter) run() error {
	if _, err := f.w.Write([]byte{'+'}); err != nil {
		return err
	}
	for {
		op, arg, err := f.readFrameHeader()
		if err != nil {
			if err == io.EOF || err == io.ErrClosedPipe {
				return nil
			}
			return err
		}
		terminal, termArg, _, err := f.handleFrame(op, arg)
		if err != nil {
			return err
		}
		if terminal {
			if op == opReturn && remoteIndex(termArg) == terminationSentinel {
				return nil
			}
			return &protocolError{detail: "fakeInterpreter: unexpected top-level reply"}
		}
	}
}

func pipePair() (hostR io.ReadCloser, hostW io.WriteCloser, remoteR io.ReadCloser, remoteW io.WriteCloser) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return r1, w2, r2, w1
}

func newTestBridge(t *testing.T) (*Bridge, *fakeInterpreter) {
	t.Helper()
	hostR, hostW, remoteR, remoteW := pipePair()
	fi := newFakeInterpreter(remoteR, remoteW, 8)
	done := make(chan error, 1)
	go func() { done <- fi.run() }()

	b, err := newBridgeFromPipes(hostR, hostW, nil, Config{Width: 8}.withDefaults())
	if err != nil {
		t.Fatalf("newBridgeFromPipes: %v", err)
	}
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("fake interpreter did not exit after termination")
		}
	})
	return b, fi
}

func TestBridgeStartupHandshake(t *testing.T) {
	b, _ := newTestBridge(t)
	if b.exceptionType == nil || b.exceptionType.IsNull() {
		t.Fatal("exceptionType not established")
	}
	if err := b.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !b.Terminated() {
		t.Fatal("expected Terminated() to be true")
	}
}

func TestMakeIntRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)
	defer b.Terminate()

	p, err := b.Int(42)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	defer p.Close()

	v, err := b.GetInt(p)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)
	defer b.Terminate()

	p, err := b.Bytes([]byte("hello"))
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	defer p.Close()

	v, err := b.GetBytes(p)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(v) != "hello" {
		t.Fatalf("got %q, want %q", v, "hello")
	}
}

func TestDup(t *testing.T) {
	b, _ := newTestBridge(t)
	defer b.Terminate()

	p, err := b.Int(7)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	defer p.Close()

	dup, err := p.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer dup.Close()

	v, err := b.GetInt(dup)
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if v != 7 {
		t.Fatalf("got %d, want 7", v)
	}
}

func TestCrossBridgeRejection(t *testing.T) {
	b1, _ := newTestBridge(t)
	defer b1.Terminate()
	b2, _ := newTestBridge(t)
	defer b2.Terminate()

	p, err := b1.Int(1)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	defer p.Close()

	if _, err := b2.GetInt(p); err == nil {
		t.Fatal("expected cross-bridge use to be rejected")
	} else if !isMisuse(err) {
		t.Fatalf("expected misuse error, got %v (%T)", err, err)
	}
}

func isMisuse(err error) bool {
	_, ok := err.(*misuseError)
	return ok
}

func TestProxyCloseIsNoopAfterTermination(t *testing.T) {
	b, _ := newTestBridge(t)
	p, err := b.Int(1)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	if err := b.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close after termination should be a no-op, got %v", err)
	}
}

// TestHostExceptionIdentityRoundTrip exercises §8's "Exception identity"
// property: a host callable raises a Go error; the fake interpreter's
// serviceCall immediately re-invokes it as a call, which the host services
// by tunneling the error across as an `e` reply, and the fake reflects that
// straight back as the reply to the call that triggered it. The host must
// see the identical *HostException-wrapped error value, not a copy.
func TestHostExceptionIdentityRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)
	defer b.Terminate()

	sentinelErr := errors.New("payload-42")
	fn, err := b.ExposeCallable(func(_ *Bridge, args []*Proxy) (*Proxy, error) {
		for _, a := range args {
			_ = a.Close()
		}
		return nil, sentinelErr
	})
	if err != nil {
		t.Fatalf("ExposeCallable: %v", err)
	}
	defer fn.Close()

	_, callErr := b.Call(fn)
	if callErr == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(callErr, sentinelErr) {
		t.Fatalf("expected identity round-trip of sentinelErr, got %v (%T)", callErr, callErr)
	}
}
