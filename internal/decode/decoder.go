// Package decode turns raw datagram payloads into opaque correlation keys.
//
// The correlator does not care what the wire format is; anything that can
// reduce a payload to a stable identifier can be plugged in as a Decoder.
package decode

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/skew.report/internal/correlate"
)

// ErrEmptyPayload is returned for zero-length datagrams, which carry no
// identity under any supported format.
var ErrEmptyPayload = errors.New("empty payload")

// Decoder extracts a packet identifier from a raw datagram payload. A
// returned error means the datagram is not decodable and must be dropped at
// the listener; decode failures never reach the correlator.
type Decoder interface {
	Decode(payload []byte) (correlate.PacketID, error)
}

// UUIDDecoder reads a 16-byte UUID from the start of the payload. Suitable
// for streams whose producer stamps each packet with a unique id up front,
// like the feedgen tool does.
type UUIDDecoder struct{}

func (UUIDDecoder) Decode(payload []byte) (correlate.PacketID, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if len(payload) < 16 {
		return "", fmt.Errorf("payload too short for uuid header: %d bytes", len(payload))
	}
	u, err := uuid.FromBytes(payload[:16])
	if err != nil {
		return "", fmt.Errorf("bad uuid header: %w", err)
	}
	return correlate.PacketID(u.String()), nil
}

// DigestDecoder identifies a packet by the SHA-256 digest of its whole
// payload. It works with any wire format, as long as both feeds deliver
// byte-identical copies of each packet.
type DigestDecoder struct{}

func (DigestDecoder) Decode(payload []byte) (correlate.PacketID, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	sum := sha256.Sum256(payload)
	return correlate.PacketID(hex.EncodeToString(sum[:])), nil
}

// ForFormat maps a configuration string to a decoder. Recognised formats
// are "uuid" and "digest".
func ForFormat(format string) (Decoder, error) {
	switch format {
	case "uuid":
		return UUIDDecoder{}, nil
	case "digest":
		return DigestDecoder{}, nil
	default:
		return nil, fmt.Errorf("unknown packet id format %q", format)
	}
}
