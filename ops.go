package snaketongs

import (
	"fmt"
	"math"
	"strconv"
)

// Int constructs a remote integer (wire opcode 'I'). Values outside the
// negotiated word width must go through BigInt instead (§4.6).
func (b *Bridge) Int(v int64) (*Proxy, error) {
	if err := b.issue(opMakeInt, v, nil); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// BigInt constructs an integer too large for the negotiated word by calling
// the remote `int` constructor on its base-10 textual form.
func (b *Bridge) BigInt(decimal string) (*Proxy, error) {
	intType, err := b.Global("int")
	if err != nil {
		return nil, err
	}
	defer intType.Close()
	s, err := b.Str(decimal)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return b.Call(intType, s)
}

// Bytes constructs a remote bytes object (wire opcode 'B').
func (b *Bridge) Bytes(v []byte) (*Proxy, error) {
	if err := b.issue(opMakeBytes, int64(len(v)), v); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// Str constructs a remote str object from UTF-8 text (wire opcode 'S').
func (b *Bridge) Str(v string) (*Proxy, error) {
	buf := []byte(v)
	if err := b.issue(opMakeStr, int64(len(buf)), buf); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// Bool constructs a remote boolean by looking up the `True`/`False`
// singletons; booleans have no dedicated opcode.
func (b *Bridge) Bool(v bool) (*Proxy, error) {
	if v {
		return b.Global("True")
	}
	return b.Global("False")
}

// Float constructs a remote float from its canonical hexadecimal textual
// representation, preserving bit pattern for all finite values, both signed
// zeros, and both infinities (§4.6, §8 "Round-trip numerics"). Every NaN is
// sent as the text "nan", so a NaN's sign and payload bits are not kept.
func (b *Bridge) Float(v float64) (*Proxy, error) {
	fromhex, err := b.Global("float.fromhex")
	if err != nil {
		return nil, err
	}
	defer fromhex.Close()
	s, err := b.Str(formatHexFloat(v))
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return b.Call(fromhex, s)
}

func formatHexFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'x', -1, 64)
	}
}

// GetFloat reads back a remote float's value via its hex textual form.
func (b *Bridge) GetFloat(p *Proxy) (float64, error) {
	hexMethod, err := b.Global("float.hex")
	if err != nil {
		return 0, err
	}
	defer hexMethod.Close()
	hexProxy, err := b.Call(hexMethod, p)
	if err != nil {
		return 0, err
	}
	defer hexProxy.Close()
	s, err := b.GetStr(hexProxy)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// Tuple constructs a remote tuple from the given elements (wire opcode 'T').
// Elements are borrowed, not consumed.
func (b *Bridge) Tuple(elems ...*Proxy) (*Proxy, error) {
	payload := make([]byte, len(elems)*b.codec.width)
	for i, e := range elems {
		if err := e.checkBridge(b); err != nil {
			return nil, err
		}
		b.codec.putInt(payload[i*b.codec.width:], int64(e.ri))
	}
	if err := b.issue(opMakeTuple, int64(len(elems)), payload); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// Global looks up a (possibly dotted) qualified name in the remote
// interpreter (wire opcode 'G'), e.g. "sys.argv" or "operator.add".
func (b *Bridge) Global(name string) (*Proxy, error) {
	buf := []byte(name)
	if err := b.issue(opGlobal, int64(len(buf)), buf); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// Call invokes fn with the given positional arguments (wire opcode 'C').
// All arguments are borrowed.
func (b *Bridge) Call(fn *Proxy, args ...*Proxy) (*Proxy, error) {
	if err := fn.checkBridge(b); err != nil {
		return nil, err
	}
	payload := make([]byte, (1+len(args))*b.codec.width)
	b.codec.putInt(payload, int64(fn.ri))
	for i, a := range args {
		if err := a.checkBridge(b); err != nil {
			return nil, err
		}
		b.codec.putInt(payload[(1+i)*b.codec.width:], int64(a.ri))
	}
	if err := b.issue(opCall, int64(len(args)), payload); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// Starcall invokes fn by expanding a positional-argument sequence and a
// keyword-argument mapping (wire opcode 'X'). args and kwargs are remote
// proxies already built for, respectively, a sequence (e.g. tuple) and a
// mapping (e.g. dict).
func (b *Bridge) Starcall(fn, args, kwargs *Proxy) (*Proxy, error) {
	for _, p := range []*Proxy{fn, args, kwargs} {
		if err := p.checkBridge(b); err != nil {
			return nil, err
		}
	}
	payload := make([]byte, 3*b.codec.width)
	b.codec.putInt(payload, int64(fn.ri))
	b.codec.putInt(payload[b.codec.width:], int64(args.ri))
	b.codec.putInt(payload[2*b.codec.width:], int64(kwargs.ri))
	if err := b.issue(opStarcall, -1, payload); err != nil {
		return nil, err
	}
	return b.awaitProxy()
}

// ExposeCallable registers fn in the RemoteTable and hands the remote side a
// wrapper object for it (wire opcode 'R'), then turns that wrapper into a
// first-class remote function object (wire opcode 'L'). The wrapper's
// HostIndex lifetime is tied to the returned function proxy's lifetime:
// when the remote side drops it, the table slot is released.
func (b *Bridge) ExposeCallable(fn callable) (*Proxy, error) {
	idx := b.table.registerCallable(fn)
	wrapper, err := b.opReturningProxy(opWrap, remoteIndex(idx))
	if err != nil {
		return nil, err
	}
	defer wrapper.Close()
	return b.opReturningProxy(opLambda, wrapper.ri)
}

// GetInt reads back the integer value of p (wire opcode 'i').
func (b *Bridge) GetInt(p *Proxy) (int64, error) {
	if err := p.checkBridge(b); err != nil {
		return 0, err
	}
	if err := b.issue(opGetInt, int64(p.ri), nil); err != nil {
		return 0, err
	}
	var value int64
	err := b.waitForReply(func(arg int64) error {
		value = arg
		return nil
	})
	return value, err
}

// GetBytes reads back the bytes payload of p (wire opcode 'b'): the `r`
// reply carries the length as its int-arg, followed by that many raw bytes.
func (b *Bridge) GetBytes(p *Proxy) ([]byte, error) {
	if err := p.checkBridge(b); err != nil {
		return nil, err
	}
	if err := b.issue(opGetBytes, int64(p.ri), nil); err != nil {
		return nil, err
	}
	var out []byte
	err := b.waitForReply(func(arg int64) error {
		if arg < 0 {
			return b.failProtocol("negative bytes length")
		}
		buf := make([]byte, arg)
		if err := b.transport.recv(buf); err != nil {
			return err
		}
		out = buf
		return nil
	})
	return out, err
}

// GetStr reads back a str proxy's text. Strings have no dedicated read
// opcode; they are extracted via the remote `str.encode` method and read
// back as bytes, then decoded as UTF-8 — the same indirection GetFloat uses
// for its textual round trip.
func (b *Bridge) GetStr(p *Proxy) (string, error) {
	encodeMethod, err := b.Global("str.encode")
	if err != nil {
		return "", err
	}
	defer encodeMethod.Close()
	encoded, err := b.Call(encodeMethod, p)
	if err != nil {
		return "", err
	}
	defer encoded.Close()
	raw, err := b.GetBytes(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// awaitProxy is the common tail of every make-*/lookup op: wait for the
// return reply and wrap its RemoteIndex.
func (b *Bridge) awaitProxy() (*Proxy, error) {
	var result *Proxy
	err := b.waitForReply(func(arg int64) error {
		result = newProxy(b, remoteIndex(arg))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- Attribute, item, and iterator access -------------------------------
//
// These are not wire opcodes; like operator overloads, they are realized by
// looking up the appropriate builtin once and calling it (§4.6, §6 host
// surface contract "Attribute and item access").

// GetAttr retrieves p.name.
func (b *Bridge) GetAttr(p *Proxy, name string) (*Proxy, error) {
	return b.callBuiltin2("getattr", p, name)
}

// SetAttr sets p.name = value.
func (b *Bridge) SetAttr(p *Proxy, name string, value *Proxy) error {
	setattr, err := b.Global("setattr")
	if err != nil {
		return err
	}
	defer setattr.Close()
	nameProxy, err := b.Str(name)
	if err != nil {
		return err
	}
	defer nameProxy.Close()
	result, err := b.Call(setattr, p, nameProxy, value)
	if err != nil {
		return err
	}
	return result.Close()
}

// DelAttr deletes p.name.
func (b *Bridge) DelAttr(p *Proxy, name string) error {
	delattr, err := b.Global("delattr")
	if err != nil {
		return err
	}
	defer delattr.Close()
	nameProxy, err := b.Str(name)
	if err != nil {
		return err
	}
	defer nameProxy.Close()
	result, err := b.Call(delattr, p, nameProxy)
	if err != nil {
		return err
	}
	return result.Close()
}

// HasAttr reports whether p has an attribute named name.
func (b *Bridge) HasAttr(p *Proxy, name string) (bool, error) {
	result, err := b.callBuiltin2("hasattr", p, name)
	if err != nil {
		return false, err
	}
	defer result.Close()
	v, err := b.GetInt(result)
	return v != 0, err
}

func (b *Bridge) callBuiltin2(builtin string, p *Proxy, name string) (*Proxy, error) {
	fn, err := b.Global(builtin)
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	nameProxy, err := b.Str(name)
	if err != nil {
		return nil, err
	}
	defer nameProxy.Close()
	return b.Call(fn, p, nameProxy)
}

// GetItem, SetItem, and DelItem forward to the `operator` module's
// getitem/setitem/delitem, matching how arithmetic operators are realized
// (§4.6 "Power/exponent... are expressed by looking up the remote
// operator's function via G and calling it via C").
func (b *Bridge) GetItem(p, key *Proxy) (*Proxy, error) {
	return b.operatorCall("getitem", p, key)
}

func (b *Bridge) SetItem(p, key, value *Proxy) error {
	result, err := b.operatorCall("setitem", p, key, value)
	if err != nil {
		return err
	}
	return result.Close()
}

func (b *Bridge) DelItem(p, key *Proxy) error {
	result, err := b.operatorCall("delitem", p, key)
	if err != nil {
		return err
	}
	return result.Close()
}

// operatorCall looks up operator.<name> and calls it with args.
func (b *Bridge) operatorCall(name string, args ...*Proxy) (*Proxy, error) {
	fn, err := b.Global("operator." + name)
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	return b.Call(fn, args...)
}

// errStopIteration is returned by Next once the remote iterator is
// exhausted, mirroring Python's StopIteration but as an idiomatic Go
// sentinel rather than forcing callers to inspect a RemoteException.
var errStopIteration = fmt.Errorf("snaketongs: iterator exhausted")

// ErrStopIteration is returned by (*Bridge).Next when the remote iterator
// protocol signals exhaustion (wire-level: a RemoteException whose type is
// the remote StopIteration).
func ErrStopIteration() error { return errStopIteration }

// Iter returns the remote iterator for p (`iter(p)`).
func (b *Bridge) Iter(p *Proxy) (*Proxy, error) {
	iterFn, err := b.Global("iter")
	if err != nil {
		return nil, err
	}
	defer iterFn.Close()
	return b.Call(iterFn, p)
}

// Next advances iterator p by one element, returning ErrStopIteration()
// itself once the remote iterator protocol's stop-iteration exception is
// observed (§6 host surface contract "Iteration").
func (b *Bridge) Next(iter *Proxy) (*Proxy, error) {
	nextFn, err := b.Global("next")
	if err != nil {
		return nil, err
	}
	defer nextFn.Close()
	v, err := b.Call(nextFn, iter)
	if err == nil {
		return v, nil
	}
	rex, ok := err.(*RemoteException)
	if !ok {
		return nil, err
	}
	stopIter, gerr := b.Global("StopIteration")
	if gerr != nil {
		return nil, gerr
	}
	defer stopIter.Close()
	isInstance, gerr := b.isInstanceOf(rex.proxy, stopIter)
	if gerr != nil {
		return nil, gerr
	}
	if isInstance {
		_ = rex.proxy.Close()
		return nil, errStopIteration
	}
	return nil, err
}

func (b *Bridge) isInstanceOf(obj interface{ Bridge() *Bridge }, typ *Proxy) (bool, error) {
	isinstance, err := b.Global("isinstance")
	if err != nil {
		return false, err
	}
	defer isinstance.Close()

	var objProxy *Proxy
	switch v := obj.(type) {
	case *ExceptionProxy:
		objProxy = &v.Proxy
	case *Proxy:
		objProxy = v
	default:
		return false, fmt.Errorf("snaketongs: unsupported instance-check operand")
	}

	result, err := b.Call(isinstance, objProxy, typ)
	if err != nil {
		return false, err
	}
	defer result.Close()
	v, err := b.GetInt(result)
	return v != 0, err
}

// unwrapHostExceptionTag reports whether excProxy is an instance of the
// designated wrapped-host-exception type and, if so, extracts the HostIndex
// carried as its sole positional argument (args[0]).
func (b *Bridge) unwrapHostExceptionTag(excProxy *Proxy) (hostIndex, bool, error) {
	isWrapped, err := b.isInstanceOf(excProxy, b.exceptionType)
	if err != nil {
		return 0, false, err
	}
	if !isWrapped {
		return 0, false, nil
	}
	argsAttr, err := b.GetAttr(excProxy, "args")
	if err != nil {
		return 0, false, err
	}
	defer argsAttr.Close()
	zero, err := b.Int(0)
	if err != nil {
		return 0, false, err
	}
	defer zero.Close()
	wrapperObj, err := b.GetItem(argsAttr, zero)
	if err != nil {
		return 0, false, err
	}
	defer wrapperObj.Close()
	idx, err := b.GetInt(wrapperObj)
	if err != nil {
		return 0, false, err
	}
	return hostIndex(idx), true, nil
}

// describeException fetches str(excProxy) eagerly, for ExceptionProxy's
// post-termination-safe Description().
func (b *Bridge) describeException(excProxy *Proxy) (string, error) {
	strFn, err := b.Global("str")
	if err != nil {
		return "", err
	}
	defer strFn.Close()
	s, err := b.Call(strFn, excProxy)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return b.GetStr(s)
}
