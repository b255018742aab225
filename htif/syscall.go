package htif

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// Proxied system call numbers.
const (
	SysClose uint64 = 57
	SysLseek uint64 = 62
	SysRead  uint64 = 63
	SysWrite uint64 = 64
	SysExit  uint64 = 93
	SysOpen  uint64 = 1024
)

// Error numbers returned to the target, negated.
const (
	EIO    = 5
	EBADF  = 9
	EFAULT = 14
	EINVAL = 22
	ENOSYS = 38
)

// SyscallBlockWords is the size of a request block in 64-bit words: the
// call number followed by up to seven arguments.
const SyscallBlockWords = 8

func errno(e int) uint64 {
	return uint64(-int64(e))
}

// syscall services the request block at addr and writes the result into
// its first word.
func (h *Host) syscall(addr uint64) {
	if !h.mem.InRange(addr, 8*SyscallBlockWords) {
		h.log.Info("syscall block out of range", "addr", addr)
		return
	}

	var args [SyscallBlockWords]uint64
	for i := range args {
		args[i] = h.mem.Read64(addr + 8*uint64(i))
	}

	h.log.Info("syscall", "num", args[0], "a0", args[1], "a1", args[2], "a2", args[3])

	var ret uint64
	switch args[0] {
	case SysExit:
		h.done = true
		h.exitCode = int(args[1])
		ret = 0
	case SysWrite:
		ret = h.sysWrite(args[1], args[2], args[3])
	case SysRead:
		ret = h.sysRead(args[1], args[2], args[3])
	case SysOpen:
		ret = h.sysOpen(args[1], args[2], args[3], args[4])
	case SysClose:
		if err := h.fds.Close(args[1]); err != nil {
			ret = errno(EBADF)
		}
	case SysLseek:
		off, err := h.fds.Seek(args[1], int64(args[2]), int(args[3]))
		if err != nil {
			ret = errno(EBADF)
		} else {
			ret = uint64(off)
		}
	default:
		ret = errno(ENOSYS)
	}

	h.mem.Write64(addr, ret)
}

func (h *Host) sysWrite(fd, buf, count uint64) uint64 {
	data, err := h.mem.ReadBytes(buf, count)
	if err != nil {
		return errno(EFAULT)
	}

	n, err := h.fds.Write(fd, data)
	switch {
	case errors.Is(err, os.ErrInvalid):
		return errno(EBADF)
	case err != nil:
		return errno(EIO)
	}
	return uint64(n)
}

func (h *Host) sysRead(fd, buf, count uint64) uint64 {
	if !h.mem.InRange(buf, count) {
		return errno(EFAULT)
	}

	data := make([]byte, count)
	n, err := h.fds.Read(fd, data)
	switch {
	case errors.Is(err, os.ErrInvalid):
		return errno(EBADF)
	case err != nil && err != io.EOF && n == 0:
		return errno(EIO)
	}

	if err := h.mem.WriteBytes(buf, data[:n]); err != nil {
		return errno(EFAULT)
	}
	return uint64(n)
}

// sysOpen opens the path of length n at pathAddr. Target flags use the Linux
// encoding, which the host's os.O_* values share on Linux.
func (h *Host) sysOpen(pathAddr, n, flags, mode uint64) uint64 {
	raw, err := h.mem.ReadBytes(pathAddr, n)
	if err != nil {
		return errno(EFAULT)
	}
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
	}

	fd, err := h.fds.Open(string(raw), int(flags), os.FileMode(mode&0o777))
	if err != nil {
		var errNo syscall.Errno
		if errors.As(err, &errNo) {
			return errno(int(errNo))
		}
		return errno(EINVAL)
	}
	return fd
}
