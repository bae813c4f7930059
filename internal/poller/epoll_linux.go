//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based Poller.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates an epoll-backed Poller. Trigger mode is selected per
// registration (via Add/Modify's mode argument), not at construction.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func eventMask(interest Interest, mode Mode) uint32 {
	var mask uint32 = unix.EPOLLRDHUP | unix.EPOLLONESHOT
	if interest&Read != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&Write != 0 {
		mask |= unix.EPOLLOUT
	}
	if mode == EdgeTriggered {
		mask |= unix.EPOLLET
	}
	return mask
}

// Add registers fd, one-shot, in the given mode.
func (p *EpollPoller) Add(fd int, interest Interest, mode Mode) error {
	ev := unix.EpollEvent{Events: eventMask(interest, mode), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify re-arms fd (required after every one-shot delivery).
func (p *EpollPoller) Modify(fd int, interest Interest, mode Mode) error {
	ev := unix.EpollEvent{Events: eventMask(interest, mode), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (p *EpollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// Wait blocks for readiness and translates epoll's event mask into Events.
func (p *EpollPoller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i]
		ev := Event{Fd: int(raw.Fd)}
		ev.Readable = raw.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0
		ev.Writable = raw.Events&unix.EPOLLOUT != 0
		ev.Err = raw.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		out = append(out, ev)
	}
	return out, nil
}

// Close tears down the epoll instance.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
