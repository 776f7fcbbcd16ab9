// Package controlchan implements the per-session control FIFO protocol:
// length-prefixed CBOR command/reply frames written and read over named
// FIFOs. Grounded on bureau-foundation-bureau's lib/codec (Core
// Deterministic CBOR encoding) and lib/ipc (request/reply variant shape);
// bureau's own transport is a streaming net.Conn where CBOR's own framing
// suffices, but a FIFO is not connection-oriented the same way, so frames
// here carry an explicit 4-byte big-endian length prefix per spec §4.5/§6.
package controlchan

import (
	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	mode, err := encOptions.EncMode()
	if err != nil {
		panic("controlchan: cbor encoder initialization failed: " + err.Error())
	}
	encMode = mode

	dmode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("controlchan: cbor decoder initialization failed: " + err.Error())
	}
	decMode = dmode
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
