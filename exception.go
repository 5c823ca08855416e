package snaketongs

import (
	"fmt"

	"github.com/pkg/errors"
)

// RemoteException is the host-visible error produced by a well-formed `e`
// reply (§7, error taxonomy item 3). It carries the proxy for the remote
// exception object plus a description captured eagerly, so that the proxy
// (an ExceptionProxy) remains inspectable even after the Bridge that
// produced it has terminated.
type RemoteException struct {
	proxy *ExceptionProxy
	desc  string
}

func (e *RemoteException) Error() string {
	return "snaketongs: remote exception: " + e.desc
}

// Proxy returns the underlying remote exception object. It is still usable
// (e.g. Dup, attribute access) as long as the owning Bridge has not been
// destroyed; it is always safe to Close even after termination.
func (e *RemoteException) Proxy() *ExceptionProxy {
	return e.proxy
}

// ExceptionProxy is a Proxy subtype permitted to outlive its Bridge's
// termination or destruction (§3, Lifecycles). Its description is captured
// at construction time rather than lazily, because fetching it later might
// require a live transport that no longer exists.
type ExceptionProxy struct {
	Proxy
	desc string
}

// Description returns the eagerly captured str() of the remote exception.
// Safe to call after the Bridge has terminated.
func (e *ExceptionProxy) Description() string {
	return e.desc
}

// Close overrides Proxy.Close to additionally tolerate a Bridge that was
// already destroyed out from under it (not just terminated): the weak
// back-reference is consulted instead of dereferencing fields that may have
// been torn down.
func (e *ExceptionProxy) Close() error {
	if e.IsNull() {
		return nil
	}
	b := e.bridge
	e.bridge = nil
	if b == nil || b.terminated || b.destroyed {
		return nil
	}
	return b.sendDrop(e.ri)
}

// HostException wraps an arbitrary Go value raised by a host-exposed
// Callable while servicing an inbound command (§7, error taxonomy item 4).
// It is registered into the RemoteTable as a ForwardedException slot so
// that, if the remote side re-raises it (or lets it propagate) back to the
// host, the *original* Value is re-raised by identity rather than a copy.
type HostException struct {
	Value error
}

func (h *HostException) Error() string {
	return h.Value.Error()
}

func (h *HostException) Unwrap() error {
	return h.Value
}

// wrapHostException registers err (or, if it already is a *HostException,
// its original Value) as a ForwardedException and returns the HostIndex to
// send across as the designated wrapper's constructor argument.
func (b *Bridge) wrapHostException(err error) hostIndex {
	var he *HostException
	if !errors.As(err, &he) {
		he = &HostException{Value: err}
	}
	return b.table.registerException(he)
}

// misuseError is raised synchronously at the API boundary for invariant-5
// violations (cross-bridge proxy use); it never touches the transport
// (§7, error taxonomy item 5, §8 "Cross-bridge rejection").
type misuseError struct {
	msg string
}

func (m *misuseError) Error() string { return "snaketongs: misuse: " + m.msg }

var errCrossBridge = &misuseError{msg: "proxy belongs to a different bridge"}

// protocolError represents a received frame that used an opcode outside the
// permitted set, or had an impossible payload size (§7, error taxonomy item
// 2). It is fatal, exactly like a transport error: it propagates to the
// outermost caller and latches the bridge as failed.
type protocolError struct {
	detail string
}

func (p *protocolError) Error() string {
	return fmt.Sprintf("snaketongs: protocol error: %s", p.detail)
}
