package file

import (
	"bufio"
	"fmt"
	"os"
)

// rotator is an append-only file that moves itself aside once it would grow
// past maxSize. Generations are path.1 (newest) through path.<keep>.
// It is not safe for concurrent use.
type rotator struct {
	path    string
	maxSize int64 // 0: never rotate
	keep    int
	bufSize int

	f    *os.File
	buf  *bufio.Writer
	size int64
}

func openRotator(path string, maxSize int64, keep, bufSize int) (*rotator, error) {
	r := &rotator{path: path, maxSize: maxSize, keep: max(keep, 1), bufSize: bufSize}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// write appends line whole. A line never straddles two generations, and a
// line larger than maxSize still lands in an empty file.
func (r *rotator) write(line []byte) error {
	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(line)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}
	n, err := r.buf.Write(line)
	r.size += int64(n)
	return err
}

func (r *rotator) close() error {
	flushErr := r.buf.Flush()
	closeErr := r.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (r *rotator) generation(i int) string {
	return fmt.Sprintf("%s.%d", r.path, i)
}

func (r *rotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f, r.buf, r.size = f, bufio.NewWriterSize(f, r.bufSize), info.Size()
	return nil
}

func (r *rotator) rotate() error {
	if err := r.close(); err != nil {
		return err
	}
	os.Remove(r.generation(r.keep))
	for i := r.keep - 1; i >= 1; i-- {
		// Gaps are fine; a young log has fewer generations than keep.
		os.Rename(r.generation(i), r.generation(i+1))
	}
	if err := os.Rename(r.path, r.generation(1)); err != nil {
		return err
	}
	return r.open()
}
