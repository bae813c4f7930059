//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based Poller.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a kqueue-backed Poller. Trigger mode is selected per
// registration (via Add/Modify's mode argument), not at construction.
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

// kqueue has no native one-shot re-arm for a combined read+write
// registration the way epoll does with EPOLLONESHOT on one descriptor, so
// Add/Modify register EV_ONESHOT per filter: an add entry for each direction
// in interest and a delete entry for the other direction, so a Modify from
// Read to Write doesn't leave a stale read registration behind. The delete
// entry comes last, so a delete that fails does not keep the add from being
// applied.
func changelist(fd int, interest Interest, mode Mode) []unix.Kevent_t {
	readFlags := unix.EV_DELETE
	writeFlags := unix.EV_DELETE
	if interest&Read != 0 {
		readFlags = unix.EV_ADD | unix.EV_ONESHOT
	}
	if interest&Write != 0 {
		writeFlags = unix.EV_ADD | unix.EV_ONESHOT
	}
	if mode == EdgeTriggered && interest&Read != 0 {
		readFlags |= unix.EV_CLEAR
	}
	if mode == EdgeTriggered && interest&Write != 0 {
		writeFlags |= unix.EV_CLEAR
	}

	readEntry := unix.Kevent_t{
		Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: uint16(readFlags),
	}
	writeEntry := unix.Kevent_t{
		Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: uint16(writeFlags),
	}
	if readFlags == unix.EV_DELETE {
		return []unix.Kevent_t{writeEntry, readEntry}
	}
	return []unix.Kevent_t{readEntry, writeEntry}
}

// Add registers fd for interest in mode.
func (p *KqueuePoller) Add(fd int, interest Interest, mode Mode) error {
	return p.apply(fd, interest, mode)
}

// Modify re-arms fd for interest in mode.
func (p *KqueuePoller) Modify(fd int, interest Interest, mode Mode) error {
	return p.apply(fd, interest, mode)
}

func (p *KqueuePoller) apply(fd int, interest Interest, mode Mode) error {
	changes := changelist(fd, interest, mode)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	// ENOENT on a DELETE for a filter that was never registered is expected
	// (e.g. a fd added with Read-only interest has no write filter to
	// delete); the delete is the last changelist entry, so the add before it
	// has already been applied.
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Remove deregisters fd from both filters.
func (p *KqueuePoller) Remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks for readiness and translates kqueue's per-filter events into
// Events, merging read/write/error flags that land on the same fd.
func (p *KqueuePoller) Wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1_000_000),
		}
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	byFd := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i]
		fd := int(raw.Ident)
		ev, ok := byFd[fd]
		if !ok {
			ev = &Event{Fd: fd}
			byFd[fd] = ev
			order = append(order, fd)
		}
		switch raw.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if raw.Flags&unix.EV_EOF != 0 || raw.Flags&unix.EV_ERROR != 0 {
			ev.Err = true
		}
	}

	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFd[fd])
	}
	return out, nil
}

// Close tears down the kqueue instance.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
