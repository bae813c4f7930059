// Package buffer implements the growable byte queue used by each connection
// for both its read and write sides.
package buffer

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// spillSize is the size of the stack-allocated scatter-read spill buffer.
// A single readFd syscall can drain a large readable pipe into this spill
// region without growing the primary buffer to match.
const spillSize = 65535

// initialCapacity is the size a freshly constructed ByteBuffer starts with.
const initialCapacity = 1024

// ErrClosed is an error value for a connection whose peer has gone away.
// ReadFd and WriteFd do not return it: ReadFd reports end of stream as
// (0, nil).
var ErrClosed = errors.New("buffer: connection closed by peer")

// ByteBuffer is a contiguous byte array with readPos <= writePos <= cap(buf).
// The readable region is buf[readPos:writePos]. It is not safe for concurrent
// use; a ByteBuffer is exclusively owned by the Connection holding it.
type ByteBuffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns an empty ByteBuffer ready for use.
func New() *ByteBuffer {
	return &ByteBuffer{buf: make([]byte, initialCapacity)}
}

// Readable returns the number of bytes available to read.
func (b *ByteBuffer) Readable() int {
	return b.writePos - b.readPos
}

// Writable returns the number of bytes that can be appended without growing
// or compacting.
func (b *ByteBuffer) Writable() int {
	return len(b.buf) - b.writePos
}

// Prependable returns the number of bytes free before readPos.
func (b *ByteBuffer) Prependable() int {
	return b.readPos
}

// Peek returns the readable region without consuming it. The returned slice
// aliases the buffer and is invalidated by any mutating call.
func (b *ByteBuffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// BeginWrite returns the writable tail, for callers (readFd) that want to
// write directly into the buffer before advancing writePos via HasWritten.
func (b *ByteBuffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// HasWritten advances writePos after the caller has written n bytes into the
// slice returned by BeginWrite.
func (b *ByteBuffer) HasWritten(n int) {
	b.writePos += n
}

// Retrieve consumes n bytes from the front of the readable region.
// n must be <= Readable().
func (b *ByteBuffer) Retrieve(n int) {
	if n >= b.Readable() {
		b.RetrieveAll()
		return
	}
	b.readPos += n
}

// RetrieveUntil consumes bytes up to and excluding index end of the
// underlying storage (end must lie within [readPos, writePos]).
func (b *ByteBuffer) RetrieveUntil(end int) {
	b.Retrieve(end - b.readPos)
}

// RetrieveAll resets the buffer to empty, zeroing storage so stale bytes
// never leak into a later read.
func (b *ByteBuffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString consumes the entire readable region and returns it as
// a string.
func (b *ByteBuffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies data onto the writable tail, growing or compacting first if
// necessary.
func (b *ByteBuffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	b.writePos += copy(b.buf[b.writePos:], data)
}

// EnsureWritable guarantees at least n bytes are writable, preferring an
// in-place compaction (shifting the readable region to offset 0) over a
// reallocation, to keep amortized allocation low.
func (b *ByteBuffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if b.Writable()+b.Prependable() >= n {
		readable := b.Readable()
		copy(b.buf, b.buf[b.readPos:b.writePos])
		b.readPos = 0
		b.writePos = readable
		return
	}
	grown := make([]byte, b.writePos+n+1)
	copy(grown, b.buf[:b.writePos])
	b.buf = grown
}

// ReadFd performs a scatter read from fd into the buffer's writable tail and
// a stack spill buffer in a single syscall, then folds any spilled bytes into
// the primary buffer. It returns the number of bytes read and the errno, if
// any, so the caller can distinguish EAGAIN from a fatal error.
func (b *ByteBuffer) ReadFd(fd int) (int, error) {
	var spill [spillSize]byte

	tail := b.BeginWrite()
	var iovs []unix.Iovec
	if len(tail) > 0 {
		tailIov := unix.Iovec{Base: &tail[0]}
		tailIov.SetLen(len(tail))
		iovs = append(iovs, tailIov)
	}
	spillIov := unix.Iovec{Base: &spill[0]}
	spillIov.SetLen(len(spill))
	iovs = append(iovs, spillIov)

	total, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	if total <= len(tail) {
		b.HasWritten(total)
		return total, nil
	}

	b.HasWritten(len(tail))
	spilled := total - len(tail)
	b.Append(spill[:spilled])
	return total, nil
}

// WriteFd writes the readable region to fd, returning the number of bytes
// written and the errno, if any.
func (b *ByteBuffer) WriteFd(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := syscall.Write(fd, readable)
	if err != nil {
		return n, err
	}
	b.Retrieve(n)
	return n, nil
}
