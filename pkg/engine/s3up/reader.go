package s3up

import (
	"io"
	"os"
	"time"
)

const progressInterval = 500 * time.Millisecond

// progressReader counts bytes as the SDK streams the payload, throttling
// the reports it emits. Seeking back to the start (the SDK does this on a
// retry) resets the count.
type progressReader struct {
	f      *os.File
	total  int64
	report func(read int64)

	read int64
	last time.Time
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.read += int64(n)
		if time.Since(r.last) >= progressInterval {
			r.report(r.read)
			r.last = time.Now()
		}
	}
	return n, err
}

func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.f.Seek(offset, whence)
	if err == nil && pos == 0 {
		r.read = 0
	}
	return pos, err
}

var _ io.ReadSeeker = (*progressReader)(nil)
