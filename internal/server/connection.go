package server

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/buffer"
	"github.com/reactord/reactord/internal/httpx"
)

// connection holds everything associated with a single HTTP connection:
// its buffers, parser, responder, and a two-slot scatter-write vector (the
// write buffer's readable region, then any mapped file). It is owned by the
// connections map keyed by fd; the loop thread and at most one worker task
// touch it at a time, per the one-shot re-arm discipline.
type connection struct {
	fd int

	readBuf  *buffer.ByteBuffer
	writeBuf *buffer.ByteBuffer

	req  *httpx.Request
	resp *httpx.Response

	// fileOff tracks how much of resp's mapped file has already been
	// written, since a single writeSocket call may not flush it all.
	fileOff int

	closed bool
}

func newConnection(fd int) *connection {
	return &connection{
		fd:       fd,
		readBuf:  buffer.New(),
		writeBuf: buffer.New(),
		req:      httpx.NewRequest(),
	}
}

// readSocket drains the socket into readBuf. etMode controls whether it
// loops until EAGAIN (edge-triggered) or returns after one read
// (level-triggered). EAGAIN/EWOULDBLOCK ends the loop as success (the
// socket is drained), a zero-byte read ends it as end of stream, and any
// other error ends it and is returned to the caller.
func (c *connection) readSocket(etMode bool) (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			if total == 0 {
				return 0, nil
			}
			return total, nil
		}
		total += n
		if !etMode {
			return total, nil
		}
	}
}

// process parses as much of readBuf as is available and, once a full
// request has been parsed, builds the response into writeBuf. It returns
// true once a response is ready to write; false means either the read
// buffer was empty or the parser is still waiting on more bytes (a partial
// request), in which case the caller re-arms read interest and returns.
func (c *connection) process(ctx context.Context, resourceRoot string, verifier httpx.Verifier) (bool, error) {
	if c.readBuf.Readable() == 0 {
		return false, nil
	}

	if err := c.req.Parse(ctx, c.readBuf, verifier); err != nil {
		return false, err
	}
	if c.req.State != httpx.StateFinish {
		return false, nil
	}

	status := 0
	if c.req.Bad {
		status = 400
	}

	c.resp = httpx.NewResponse(resourceRoot, c.req.Path, status, c.req.KeepAlive)
	if err := c.resp.Build(c.writeBuf); err != nil {
		return false, err
	}
	c.fileOff = 0
	return true, nil
}

// toWriteBytes sums the two scatter-write segment lengths.
func (c *connection) toWriteBytes() int {
	n := c.writeBuf.Readable()
	if c.resp != nil {
		n += len(c.resp.MappedFile()) - c.fileOff
	}
	return n
}

// writeSocket issues a scatter write of the current vector, retiring bytes
// from the header segment first and then the file segment. etMode mirrors
// readSocket's loop condition: loop while edge-triggered or more than
// 10 KiB remains, otherwise one write suffices per call.
func (c *connection) writeSocket(etMode bool) (int, error) {
	total := 0
	for {
		hdr := c.writeBuf.Peek()
		var file []byte
		if c.resp != nil {
			file = c.resp.MappedFile()[c.fileOff:]
		}
		if len(hdr) == 0 && len(file) == 0 {
			return total, nil
		}

		var iovs []unix.Iovec
		if len(hdr) > 0 {
			iov := unix.Iovec{Base: &hdr[0]}
			iov.SetLen(len(hdr))
			iovs = append(iovs, iov)
		}
		if len(file) > 0 {
			iov := unix.Iovec{Base: &file[0]}
			iov.SetLen(len(file))
			iovs = append(iovs, iov)
		}

		n, err := unix.Writev(c.fd, iovs)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n

		if n >= len(hdr) {
			remaining := n - len(hdr)
			c.writeBuf.Retrieve(len(hdr))
			c.fileOff += remaining
		} else {
			c.writeBuf.Retrieve(n)
		}

		if !etMode && c.toWriteBytes() <= 10*1024 {
			return total, nil
		}
	}
}

// resetForKeepAlive prepares the connection for the next pipelined request
// on the same socket, unmapping the previous response's file and resetting
// parser state.
func (c *connection) resetForKeepAlive() error {
	var err error
	if c.resp != nil {
		err = c.resp.Unmap()
		c.resp = nil
	}
	c.fileOff = 0
	c.req.Reset()
	return err
}

// isKeepAlive forwards to the parser.
func (c *connection) isKeepAlive() bool {
	return c.req.KeepAlive
}

// close unmaps any mapped file and closes the fd exactly once.
func (c *connection) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.resp != nil {
		c.resp.Unmap()
		c.resp = nil
	}
	return unix.Close(c.fd)
}
