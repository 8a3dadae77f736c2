package vault

// PlaintextHandle is a scoped view of decrypted secret material. Callers
// must call Close when done; Close zeroes the backing buffer so a decrypted
// API secret never lingers in memory longer than the call that needed it.
type PlaintextHandle struct {
	key    []byte
	secret []byte
	extras []byte
	closed bool
}

// Key returns the decrypted API key. Panics if Close was already called.
func (h *PlaintextHandle) Key() []byte {
	h.mustOpen()
	return h.key
}

// Secret returns the decrypted API secret. Panics if Close was already called.
func (h *PlaintextHandle) Secret() []byte {
	h.mustOpen()
	return h.secret
}

// Extras returns decrypted auxiliary fields (e.g. a passphrase), or nil.
func (h *PlaintextHandle) Extras() []byte {
	h.mustOpen()
	return h.extras
}

func (h *PlaintextHandle) mustOpen() {
	if h.closed {
		panic("vault: use of PlaintextHandle after Close")
	}
}

// Close zeroes all decrypted buffers held by this handle.
func (h *PlaintextHandle) Close() {
	zero(h.key)
	zero(h.secret)
	zero(h.extras)
	h.closed = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
