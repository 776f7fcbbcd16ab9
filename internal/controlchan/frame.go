package controlchan

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame's payload, guarding against a
// corrupt or hostile length prefix driving an enormous allocation.
const maxFrameSize = 1 << 20 // 1 MiB

// writeFrame writes payload as len:uint32_be || payload to w, per spec
// §4.5/§6's wire format.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// readFrame reads one len:uint32_be || payload frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteCommand encodes cmd as CBOR and writes it as one frame.
func WriteCommand(w io.Writer, cmd Command) error {
	data, err := marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return writeFrame(w, data)
}

// ReadCommand reads one frame from r and decodes it as a Command.
func ReadCommand(r io.Reader) (Command, error) {
	data, err := readFrame(r)
	if err != nil {
		return Command{}, err
	}
	var cmd Command
	if err := unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	return cmd, nil
}

// WriteReply encodes reply as CBOR and writes it as one frame.
func WriteReply(w io.Writer, reply Reply) error {
	data, err := marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	return writeFrame(w, data)
}

// ReadReply reads one frame from r and decodes it as a Reply.
func ReadReply(r io.Reader) (Reply, error) {
	data, err := readFrame(r)
	if err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decoding reply: %w", err)
	}
	return reply, nil
}
