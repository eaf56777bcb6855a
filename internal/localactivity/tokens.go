package localactivity

import (
	"encoding/binary"
	"sync/atomic"
)

// taskTokenKind discriminates a local-activity task token from other token
// kinds a worker might mint (only LA tokens are produced here, but the
// discriminator byte keeps the wire format self-describing if this manager
// is ever embedded alongside a remote-activity token minter).
const taskTokenKind = 0x01

// TaskToken is the per-attempt identity handed to the executor: it changes
// on every retry, unlike contracts.ExecutingLAID which is stable for the
// lifetime of the local activity. Tokens are comparable and usable as map
// keys.
type TaskToken [5]byte

// String renders the token as a short hex string for logging.
func (t TaskToken) String() string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 0, len(t)*2)
	for _, b := range t {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(buf)
}

// tokenGenerator mints monotonically increasing task tokens. A single
// counter is shared by the whole manager rather than scoped per activity:
// tokens only need to be unique and unguessable-by-collision within one
// manager's lifetime, not tied to any particular activity's attempt count.
type tokenGenerator struct {
	counter uint32
}

func (g *tokenGenerator) next() TaskToken {
	n := atomic.AddUint32(&g.counter, 1)
	var tok TaskToken
	tok[0] = taskTokenKind
	binary.LittleEndian.PutUint32(tok[1:], n)
	return tok
}
