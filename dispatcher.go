package snaketongs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// issue writes a command header (and optional payload) to the outbound
// buffer without flushing. Flushing happens lazily, just before the next
// blocking read, per the Transport contract.
func (b *Bridge) issue(op opcode, arg int64, payload []byte) error {
	b.seq++
	b.log.WithFields(logrus.Fields{"seq": b.seq, "opcode": op, "arg": arg}).Debug("bridge send")
	hdr := b.codec.encodeHeader(op, arg)
	if err := b.transport.send(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := b.transport.send(payload); err != nil {
			return err
		}
	}
	return nil
}

// failProtocol builds a *protocolError for detail, latches it into the
// transport so every later transport operation fails fast instead of
// continuing to read a desynced stream (§7 item 2: a protocol error is
// fatal, exactly like a transport error), and logs it at Error.
func (b *Bridge) failProtocol(detail string) error {
	err := &protocolError{detail: detail}
	b.log.WithError(err).Error("bridge: protocol error")
	return b.transport.fail(err)
}

// sendDrop issues opcode '~' for ri. Per §4.4 this has no reply and may be
// coalesced into the outbound buffer; the caller is responsible for not
// doing this mid-frame, which is automatic since our Go call graph never
// runs a Proxy finalizer in the middle of constructing another command's
// payload (there is no GC-driven finalization in this implementation;
// drops only happen from explicit Close calls, between whole operations).
func (b *Bridge) sendDrop(ri remoteIndex) error {
	return b.issue(opDrop, int64(ri), nil)
}

// waitForReply is the reentrant receive loop at the heart of the bridge
// (§4.5). It flushes, then reads one frame at a time, recursing into
// serviceCall for inbound calls and releasing host indices for inbound
// drops, until the awaited `r`/`e` terminal frame arrives for the *current*
// call stack frame. onReturn receives the `r` frame's integer argument and
// is responsible for consuming any opcode-specific trailing payload (e.g.
// opGetBytes's length-then-bytes).
func (b *Bridge) waitForReply(onReturn func(arg int64) error) error {
	for {
		if err := b.transport.flush(); err != nil {
			return err
		}

		var opByte [1]byte
		if err := b.transport.recv(opByte[:]); err != nil {
			return err
		}
		argBuf := make([]byte, b.codec.width)
		if err := b.transport.recv(argBuf); err != nil {
			return err
		}
		arg := b.codec.getInt(argBuf)
		op := opcode(opByte[0])
		b.seq++
		b.log.WithFields(logrus.Fields{"seq": b.seq, "opcode": op, "arg": arg}).Debug("bridge receive")

		switch op {
		case opInboundCall:
			b.log.WithField("seq", b.seq).Debug("dispatcher: servicing inbound call")
			if err := b.serviceCall(hostIndex(arg)); err != nil {
				return err
			}
			b.log.WithField("seq", b.seq).Debug("dispatcher: resuming await")
		case opDrop:
			if err := b.table.release(hostIndex(arg)); err != nil {
				return b.failProtocol(err.Error())
			}
		case opReturn:
			return onReturn(arg)
		case opException:
			return b.raiseRemote(remoteIndex(arg))
		default:
			b.log.WithField("opcode", opByte[0]).Warn("bridge: unexpected opcode")
			return b.failProtocol(fmt.Sprintf("unexpected opcode %q", opByte[0]))
		}
	}
}

// serviceCall handles one inbound `c` frame: reads the argument count and
// that many RemoteIndex values, looks up the Callable at hostIdx, and runs
// it. Exactly one of `r`/`e` is produced before this returns. The callable
// takes ownership of each argument: they arrive as Proxy values whose Close
// will emit a drop.
func (b *Bridge) serviceCall(hostIdx hostIndex) error {
	fn, err := b.table.lookupCallable(hostIdx)
	if err != nil {
		return b.failProtocol(err.Error())
	}

	countBytes := make([]byte, b.codec.width)
	if err := b.transport.recv(countBytes); err != nil {
		return err
	}
	count := int(b.codec.getInt(countBytes))

	args := make([]*Proxy, count)
	for i := 0; i < count; i++ {
		riBytes := make([]byte, b.codec.width)
		if err := b.transport.recv(riBytes); err != nil {
			return err
		}
		args[i] = newProxy(b, remoteIndex(b.codec.getInt(riBytes)))
	}

	result, callErr := fn(b, args)
	if callErr != nil {
		return b.sendExceptionFor(callErr)
	}
	if result.IsNull() {
		return b.issue(opReturn, 0, nil)
	}
	return b.issue(opReturn, int64(result.Move()), nil)
}

// sendExceptionFor converts a Callable's error into an `e` frame. A
// *RemoteException is unwrapped back to the remote exception object it
// originally came from (round-tripping the same remote identity); any other
// Go error is tunneled through the designated wrapper type so that, should
// it cross back to the host, it re-raises by Go-value identity (§7 item 4,
// §8 "Exception identity").
func (b *Bridge) sendExceptionFor(callErr error) error {
	if rex, ok := callErr.(*RemoteException); ok {
		return b.issue(opException, int64(rex.proxy.Move()), nil)
	}

	idx := b.wrapHostException(callErr)
	wrapper, err := b.opReturningProxy(opWrap, remoteIndex(idx))
	if err != nil {
		return err
	}
	instance, err := b.Call(b.exceptionType, wrapper)
	if err != nil {
		return err
	}
	return b.issue(opException, int64(instance.Move()), nil)
}

// raiseRemote handles a top-level `e` reply to a command the host itself
// issued: peek whether the exception is the designated wrapped-host type;
// if so, unwrap it back to the original Go value by identity, otherwise
// surface it as a RemoteException.
func (b *Bridge) raiseRemote(ri remoteIndex) error {
	excProxy := newProxy(b, ri)

	if idx, ok, err := b.unwrapHostExceptionTag(excProxy); err != nil {
		return err
	} else if ok {
		forwarded, lookErr := b.table.lookupException(idx)
		_ = excProxy.Close()
		if lookErr != nil {
			return b.failProtocol(lookErr.Error())
		}
		if relErr := b.table.release(idx); relErr != nil {
			return b.failProtocol(relErr.Error())
		}
		return forwarded.Value
	}

	desc, err := b.describeException(excProxy)
	if err != nil {
		desc = "<description unavailable: " + err.Error() + ">"
	}
	return &RemoteException{
		proxy: &ExceptionProxy{Proxy: *excProxy, desc: desc},
		desc:  desc,
	}
}

// opReturningProxy issues a simple `op(arg)` command and waits for the
// `return(RI)` reply, wrapping it in a new Proxy.
func (b *Bridge) opReturningProxy(op opcode, arg remoteIndex) (*Proxy, error) {
	if err := b.issue(op, int64(arg), nil); err != nil {
		return nil, err
	}
	var result *Proxy
	err := b.waitForReply(func(retArg int64) error {
		result = newProxy(b, remoteIndex(retArg))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
