package zkvm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrBadFileDescriptor is returned for reads or writes on an fd that has
// no host stream attached.
var ErrBadFileDescriptor = errors.New("zkvm: bad file descriptor")

// PosixIO serves the read, read-avail and write syscalls over host
// streams keyed by guest file descriptor.
type PosixIO struct {
	readFds  map[uint32]*bufio.Reader
	writeFds map[uint32]io.Writer
}

// NewPosixIO returns a PosixIO with no streams attached.
func NewPosixIO() *PosixIO {
	return &PosixIO{
		readFds:  make(map[uint32]*bufio.Reader),
		writeFds: make(map[uint32]io.Writer),
	}
}

// WithReadFd attaches r as guest fd.
func (p *PosixIO) WithReadFd(fd uint32, r io.Reader) *PosixIO {
	p.readFds[fd] = bufio.NewReader(r)
	return p
}

// WithWriteFd attaches w as guest fd.
func (p *PosixIO) WithWriteFd(fd uint32, w io.Writer) *PosixIO {
	p.writeFds[fd] = w
	return p
}

// Register installs the three posix syscalls into t.
func (p *PosixIO) Register(t *SyscallTable) *SyscallTable {
	return t.WithSyscall(SysRead, p).
		WithSyscall(SysReadAvail, p).
		WithSyscall(SysWrite, p)
}

func (p *PosixIO) Syscall(name string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error) {
	switch name {
	case SysReadAvail:
		return p.readAvail(ctx)
	case SysRead:
		return p.read(ctx, toGuest)
	case SysWrite:
		return p.write(ctx)
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
	}
}

func (p *PosixIO) reader(ctx SyscallContext) (*bufio.Reader, error) {
	fd, err := ctx.LoadRegister(RegA3)
	if err != nil {
		return nil, err
	}
	r, ok := p.readFds[fd]
	if !ok {
		return nil, fmt.Errorf("%w: read fd %d", ErrBadFileDescriptor, fd)
	}
	return r, nil
}

// readAvail returns how many bytes can be read from fd without blocking
// beyond a single fill of its buffer.
func (p *PosixIO) readAvail(ctx SyscallContext) (uint32, uint32, error) {
	r, err := p.reader(ctx)
	if err != nil {
		return 0, 0, err
	}
	if _, err := r.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		return 0, 0, err
	}
	return uint32(r.Buffered()), 0, nil
}

// read fills toGuest with whole words and returns any of the requested
// bytes beyond them (at most three) packed into a1. a0 is the number of
// bytes actually read; fewer than requested means end of stream.
func (p *PosixIO) read(ctx SyscallContext, toGuest []uint32) (uint32, uint32, error) {
	r, err := p.reader(ctx)
	if err != nil {
		return 0, 0, err
	}
	nbytes, err := ctx.LoadRegister(RegA4)
	if err != nil {
		return 0, 0, err
	}
	mainBytes := min(int(nbytes), len(toGuest)*WordSize)
	tailBytes := min(int(nbytes)-mainBytes, WordSize-1)

	buf := make([]byte, mainBytes+tailBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, 0, err
	}
	copyBytesToWords(toGuest, buf[:min(n, mainBytes)])

	var tail uint32
	if n > mainBytes {
		for i, b := range buf[mainBytes:n] {
			tail |= uint32(b) << (8 * uint(i))
		}
	}
	return uint32(n), tail, nil
}

func (p *PosixIO) write(ctx SyscallContext) (uint32, uint32, error) {
	fd, err := ctx.LoadRegister(RegA3)
	if err != nil {
		return 0, 0, err
	}
	w, ok := p.writeFds[fd]
	if !ok {
		return 0, 0, fmt.Errorf("%w: write fd %d", ErrBadFileDescriptor, fd)
	}
	ptr, err := ctx.LoadRegister(RegA4)
	if err != nil {
		return 0, 0, err
	}
	n, err := ctx.LoadRegister(RegA5)
	if err != nil {
		return 0, 0, err
	}
	buf, err := ctx.LoadRegion(ptr, n)
	if err != nil {
		return 0, 0, err
	}
	if _, err := w.Write(buf); err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}
