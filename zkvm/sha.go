package zkvm

import (
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"errors"
)

var errShaState = errors.New("zkvm: sha256 state codec mismatch")

// sha256StateMagic prefixes the binary form of a crypto/sha256 digest.
// The layout that follows is the eight big-endian chaining words, the
// pending block buffer and the total length.
const sha256StateMagic = "sha\x03"

const sha256StateSize = len(sha256StateMagic) + DigestBytes + BlockBytes + 8

// compressBlock runs one SHA-256 compression of block into state, where
// state holds the chaining value as big-endian bytes. No padding is
// applied; the guest accelerator exposes the raw compression function.
func compressBlock(state *[DigestBytes]byte, block []byte) error {
	var enc [sha256StateSize]byte
	copy(enc[:], sha256StateMagic)
	copy(enc[len(sha256StateMagic):], state[:])

	h := sha256.New()
	if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(enc[:]); err != nil {
		return errors.Join(errShaState, err)
	}
	h.Write(block[:BlockBytes])
	out, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return errors.Join(errShaState, err)
	}
	if len(out) != sha256StateSize || string(out[:len(sha256StateMagic)]) != sha256StateMagic {
		return errShaState
	}
	copy(state[:], out[len(sha256StateMagic):])
	return nil
}

// wordsToBytes lays words out as guest memory does.
func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*WordSize:], w)
	}
	return out
}

// bytesToWords reads little-endian words, ignoring any trailing bytes.
func bytesToWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/WordSize)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*WordSize:])
	}
	return out
}
