package input

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocRead = 2

	keyMax = 0x2ff
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// EVIOCGKEY(len) = _IOC(_IOC_READ, 'E', 0x18, len)
func evioCGKey(size int) uintptr {
	return ioc(iocRead, uint32('E'), 0x18, uint32(size))
}

// activeKeys reads the kernel's held-key bitmap for fd
func activeKeys(fd uintptr) ([]uint16, error) {
	buf := make([]byte, keyMax/8+1)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, evioCGKey(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, errno
	}
	return bitmapCodes(buf), nil
}

func bitmapCodes(buf []byte) []uint16 {
	var codes []uint16
	for i, b := range buf {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				codes = append(codes, uint16(i*8+bit))
			}
		}
	}
	return codes
}

// readable polls fd without blocking
func readable(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}
