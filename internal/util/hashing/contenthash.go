// Package hashing computes content hashes for stored files.
//
// A content hash splits a stream into fixed BlockSize blocks, hashes each
// block with SHA-256, and hashes the concatenation of the raw block digests
// with SHA-256 again. It is the same value the Dropbox API reports as a
// file's "content_hash", so identical bytes always produce identical
// hashes no matter how the stream was chunked on the way in.
package hashing

import (
	"hash"

	"github.com/minio/sha256-simd"
)

const (
	// BlockSize is the number of input bytes covered by each block digest.
	// Readers feeding a Hasher can use it to size their buffers.
	BlockSize = 4 * 1024 * 1024

	// Size is the length of a content hash in bytes.
	Size = sha256.Size
)

// Hasher accumulates a content hash incrementally.
//
// A Hasher is owned by a single goroutine. Once Finalize (or Sum) has been
// called the digest is fixed: Write panics until Reset is called.
type Hasher struct {
	overall  hash.Hash // digests of completed blocks, in order
	block    hash.Hash // bytes of the current block
	blockPos int

	finalized bool
	sum       [Size]byte
}

var _ hash.Hash = (*Hasher)(nil)

// New returns a Hasher in its initial state.
func New() *Hasher {
	h := &Hasher{}
	h.Reset()
	return h
}

// Reset discards all accumulated state, including a finalized digest.
func (h *Hasher) Reset() {
	h.overall = sha256.New()
	h.block = sha256.New()
	h.blockPos = 0
	h.finalized = false
	h.sum = [Size]byte{}
}

// Write adds p to the running hash. It never returns an error.
//
// A block that fills exactly at the end of p stays pending until more
// bytes arrive or the hash is finalized.
func (h *Hasher) Write(p []byte) (int, error) {
	if h.finalized {
		panic("hashing: Write after Finalize; call Reset first")
	}
	n := len(p)
	for len(p) > 0 {
		if h.blockPos == BlockSize {
			h.flushBlock()
		}
		room := BlockSize - h.blockPos
		head := p[:min(room, len(p))]
		h.block.Write(head)
		h.blockPos += len(head)
		p = p[len(head):]
	}
	return n, nil
}

// Finalize flushes any pending block and returns the content hash.
// Calling it again returns the same value.
func (h *Hasher) Finalize() [Size]byte {
	if h.finalized {
		return h.sum
	}
	if h.blockPos > 0 {
		h.flushBlock()
	}
	copy(h.sum[:], h.overall.Sum(nil))
	h.finalized = true
	return h.sum
}

// Sum appends the content hash to b. Like Finalize, it ends accumulation.
func (h *Hasher) Sum(b []byte) []byte {
	sum := h.Finalize()
	return append(b, sum[:]...)
}

// Size returns the number of bytes Sum appends.
func (h *Hasher) Size() int { return Size }

// BlockSize returns the block size of the underlying SHA-256.
func (h *Hasher) BlockSize() int { return sha256.BlockSize }

// flushBlock moves the current block's digest into the overall hash and
// starts a new block. Both Write and Finalize go through here.
func (h *Hasher) flushBlock() {
	var digest [Size]byte
	h.overall.Write(h.block.Sum(digest[:0]))
	h.block.Reset()
	h.blockPos = 0
}

// Sum returns the content hash of data.
func Sum(data []byte) [Size]byte {
	h := New()
	h.Write(data)
	return h.Finalize()
}
