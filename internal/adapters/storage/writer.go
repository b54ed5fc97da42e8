package storage

import (
	"io"

	"github.com/foundry/contentsync/internal/util/hashing"
)

// hashingWriter wraps a writer and feeds every byte it accepts into a
// content hasher.
type hashingWriter struct {
	w io.Writer
	h *hashing.Hasher
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{
		w: w,
		h: hashing.New(),
	}
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

// Hash finalizes the content hash of everything written so far.
func (hw *hashingWriter) Hash() string {
	return hashing.Format(hw.h.Finalize())
}
