package snaketongs

import "fmt"

// Proxy is a host-side handle for exactly one live value in the remote
// interpreter (C4). It is move-only: copying a Proxy would cause its drop
// message to be sent twice, so Proxy values must be passed by the
// accompanying Move/Dup methods rather than struct-copied across ownership
// boundaries that matter. A zero Proxy (bridge == nil) is "null" — either
// never initialized, or transferred out by Move.
type Proxy struct {
	bridge *Bridge
	ri     remoteIndex
}

// newProxy wraps a freshly returned remote index. Every ProxyOp that yields
// a RemoteIndex constructs its result this way.
func newProxy(b *Bridge, ri remoteIndex) *Proxy {
	return &Proxy{bridge: b, ri: ri}
}

// IsNull reports whether the handle has already been transferred out or was
// never populated.
func (p *Proxy) IsNull() bool {
	return p == nil || p.bridge == nil
}

// Bridge returns the Bridge that produced this proxy, or nil for a null
// proxy.
func (p *Proxy) Bridge() *Bridge {
	if p == nil {
		return nil
	}
	return p.bridge
}

// checkBridge enforces invariant 5: a proxy may only be used with the Bridge
// that produced it. Cross-bridge use is rejected here, before any bytes are
// sent.
func (p *Proxy) checkBridge(want *Bridge) error {
	if p.IsNull() {
		return fmt.Errorf("snaketongs: use of null proxy")
	}
	if p.bridge != want {
		return errCrossBridge
	}
	return nil
}

// Dup asks the remote side for an independently owned duplicate of this
// value (wire opcode 'D') and returns a new Proxy for it. The original
// proxy is left intact: this command borrows, rather than consumes, its
// argument (§4.6).
func (p *Proxy) Dup() (*Proxy, error) {
	if p.IsNull() {
		return nil, fmt.Errorf("snaketongs: use of null proxy")
	}
	return p.bridge.opReturningProxy(opDup, p.ri)
}

// Move transfers ownership out of p, returning the RemoteIndex for internal
// use (building a command payload) and leaving p null so its destructor
// becomes a no-op. Used when a Proxy is being consumed as a call argument by
// something that takes over its lifetime (e.g. an inbound callable's args).
func (p *Proxy) Move() remoteIndex {
	ri := p.ri
	p.bridge = nil
	return ri
}

// Close drops the proxy's remote reference (wire opcode '~') unless the
// Bridge has already terminated, in which case it is a no-op per the
// Lifecycle contract (§4.8). Close is idempotent; calling it twice is safe.
func (p *Proxy) Close() error {
	if p.IsNull() {
		return nil
	}
	b := p.bridge
	p.bridge = nil
	if b.terminated {
		return nil
	}
	return b.sendDrop(p.ri)
}
