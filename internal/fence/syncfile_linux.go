//go:build linux

package fence

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/vsyncd/internal/hwerr"
)

// syncFilePollMillis bounds each poll so Close is noticed promptly.
const syncFilePollMillis = 100

// ImportSyncFile wraps a pollable kernel fence descriptor (a sync file, or
// anything that turns readable once) in a registry fence. The registry
// takes ownership of fd and closes it once the fence signals, the fd fails
// or the registry is closed. A failed fd leaves the fence pending.
func (r *Registry) ImportSyncFile(fd int) (ID, error) {
	if fd < 0 {
		return NoFence, fmt.Errorf("import sync file %d: %w", fd, hwerr.ErrInvalidArgument)
	}

	id := r.Create()
	go r.watchSyncFile(id, fd)
	return id, nil
}

// TimerFence returns a fence the kernel signals after d, backed by a
// timerfd on the monotonic clock.
func (r *Registry) TimerFence(d time.Duration) (ID, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return NoFence, fmt.Errorf("timer fence: %w", err)
	}
	// A zero expiry disarms the timer instead of firing it.
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return NoFence, fmt.Errorf("timer fence: arm: %w", err)
	}
	return r.ImportSyncFile(fd)
}

func (r *Registry) watchSyncFile(id ID, fd int) {
	defer unix.Close(fd)

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		select {
		case <-r.closed:
			return
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, syncFilePollMillis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			r.logger.Error("kernel fence poll failed, fence stays pending", "fence", id, "fd", fd, "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			r.logger.Error("kernel fence fd failed, fence stays pending", "fence", id, "fd", fd, "revents", fds[0].Revents)
			return
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			_ = r.Signal(id)
			return
		}
	}
}
