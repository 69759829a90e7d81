package remotestore

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// uploadBufferMaxMemory caps how much of an upload body is held in memory
// to make retry attempts replayable. Larger bodies spool to a temp file.
const uploadBufferMaxMemory int64 = 16 << 20

// replayBody makes an upload body rewindable so every retry attempt reads
// the full payload from the start instead of the EOF a prior attempt left
// behind.
type replayBody struct {
	rs      io.ReadSeeker
	cleanup func() error
}

func (b *replayBody) Read(p []byte) (int, error) { return b.rs.Read(p) }

func (b *replayBody) rewind() error {
	_, err := b.rs.Seek(0, io.SeekStart)
	return err
}

func (b *replayBody) close() error {
	if b.cleanup == nil {
		return nil
	}
	return b.cleanup()
}

// newReplayBody wraps src for retries. A source that already seeks is used
// in place; otherwise bodies up to maxMemory bytes are buffered in memory,
// and larger or unknown-size bodies spool to a temp file.
func newReplayBody(src io.Reader, size, maxMemory int64) (*replayBody, error) {
	if maxMemory <= 0 {
		maxMemory = uploadBufferMaxMemory
	}

	if rs, ok := src.(io.ReadSeeker); ok {
		return &replayBody{rs: rs}, nil
	}

	if size >= 0 && size <= maxMemory {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("buffer upload body: %w", err)
		}
		return &replayBody{rs: bytes.NewReader(data)}, nil
	}

	f, err := os.CreateTemp("", "s3console-upload-*")
	if err != nil {
		return nil, fmt.Errorf("spool upload body: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("spool upload body: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("spool upload body: %w", err)
	}

	return &replayBody{
		rs: f,
		cleanup: func() error {
			name := f.Name()
			closeErr := f.Close()
			if err := os.Remove(name); err != nil {
				return err
			}
			return closeErr
		},
	}, nil
}
