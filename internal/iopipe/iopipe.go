// Package iopipe implements a single-producer/single-consumer byte pipe
// that decouples an engine subprocess's stdout from the terminal sink,
// rotatable per compilation iteration.
package iopipe

import (
	"io"
	"sync"
)

// Pipe is the shared state between one Writer and one Reader. Use New
// to obtain both ends.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	closed bool
}

// New creates a fresh pipe and returns its writer and reader halves.
// The daemon creates a new Pipe per iteration so that readers of a
// finished run observe a clean EOF instead of blocking forever or
// seeing bytes from the next run.
func New() (*Writer, *Reader) {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return &Writer{p: p}, &Reader{p: p}
}

// Writer is the producer half of a Pipe.
type Writer struct {
	p        *Pipe
	closeOne sync.Once
}

// Write appends b to the pipe. It never blocks the caller on a slow
// reader beyond acquiring the internal lock.
func (w *Writer) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	cp := append([]byte(nil), b...)
	w.p.mu.Lock()
	w.p.chunks = append(w.p.chunks, cp)
	w.p.mu.Unlock()
	w.p.cond.Signal()
	return len(b), nil
}

// Close signals EOF to the reader. Idempotent.
func (w *Writer) Close() error {
	w.closeOne.Do(func() {
		w.p.mu.Lock()
		w.p.closed = true
		w.p.mu.Unlock()
		w.p.cond.Broadcast()
	})
	return nil
}

// Reader is the consumer half of a Pipe.
type Reader struct {
	p   *Pipe
	buf []byte
}

// Read blocks until a chunk is available, the pipe is closed, or it
// still has leftover bytes from a previous chunk. Once EOF has been
// observed, all further reads return io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		r.p.mu.Lock()
		for len(r.p.chunks) == 0 && !r.p.closed {
			r.p.cond.Wait()
		}
		if len(r.p.chunks) > 0 {
			r.buf = r.p.chunks[0]
			r.p.chunks = r.p.chunks[1:]
		}
		r.p.mu.Unlock()
		if len(r.buf) == 0 {
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// CopyTo drains r into w until EOF, returning any write error. Intended
// to run in the caller's "copy-to-terminal" goroutine.
func (r *Reader) CopyTo(w io.Writer) error {
	_, err := io.Copy(w, readerFunc(r.Read))
	return err
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
