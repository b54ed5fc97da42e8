package hashing

import (
	"context"
	"io"
	"os"
)

// HashReader returns the content hash of everything read from r.
//
// Errors from r other than io.EOF are returned as they are and no hash is
// produced; a partially consumed stream has no meaningful hash.
func HashReader(r io.Reader) ([Size]byte, error) {
	return HashReaderContext(context.Background(), r)
}

// HashReaderContext is like HashReader but stops with ctx.Err() once ctx
// is done. The context is checked before every read.
func HashReaderContext(ctx context.Context, r io.Reader) ([Size]byte, error) {
	h := New()
	buf := make([]byte, BlockSize)
	for {
		if err := ctx.Err(); err != nil {
			return [Size]byte{}, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		// Only the bare io.EOF ends the stream; a wrapped one is a failure.
		if err == io.EOF {
			break
		}
		if err != nil {
			return [Size]byte{}, err
		}
	}
	return h.Finalize(), nil
}

// HashFile returns the content hash of the file at path. Open and read
// errors are returned unwrapped.
func HashFile(path string) ([Size]byte, error) {
	return HashFileContext(context.Background(), path)
}

// HashFileContext is like HashFile but honours ctx between reads.
func HashFileContext(ctx context.Context, path string) ([Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [Size]byte{}, err
	}
	defer f.Close()
	return HashReaderContext(ctx, f)
}
