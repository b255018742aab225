package htif

import (
	"io"
	"os"
	"sort"
	"sync"
)

// FileDescriptor is one target file descriptor.
type FileDescriptor struct {
	HostFile *os.File // nil for the standard streams
	Path     string
	Flags    int

	discard bool
}

// FDTable maps target file descriptors to host files. Descriptors 0, 1 and
// 2 are the host's standard streams.
type FDTable struct {
	mu     sync.Mutex
	fds    map[uint64]*FileDescriptor
	nextFD uint64

	// discard keeps writable files closed on the host: writes are dropped
	// and reads see EOF.
	discard bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewFDTable creates a table with the standard streams open.
func NewFDTable(stdin io.Reader, stdout, stderr io.Writer) *FDTable {
	t := &FDTable{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	t.reset()
	return t
}

func (t *FDTable) reset() {
	t.fds = map[uint64]*FileDescriptor{
		0: {Path: "stdin"},
		1: {Path: "stdout"},
		2: {Path: "stderr"},
	}
	t.nextFD = 3
}

// Open opens path on the host and returns the new target descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint64, error) {
	entry := &FileDescriptor{Path: path, Flags: flags}

	if t.discard && flags&writeFlags != 0 {
		entry.discard = true
	} else {
		f, err := os.OpenFile(path, flags, mode)
		if err != nil {
			return 0, err
		}
		entry.HostFile = f
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.nextFD
	t.nextFD++
	t.fds[fd] = entry

	return fd, nil
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// Close closes a descriptor. Closing a standard stream only forgets it.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	if !ok {
		return os.ErrInvalid
	}
	delete(t.fds, fd)

	if entry.HostFile != nil {
		return entry.HostFile.Close()
	}
	return nil
}

// IsOpen reports whether fd is open.
func (t *FDTable) IsOpen(fd uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.fds[fd]
	return ok
}

func (t *FDTable) reader(fd uint64) (io.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	switch {
	case !ok:
		return nil, os.ErrInvalid
	case fd == 0:
		if t.stdin == nil {
			return eofReader{}, nil
		}
		return t.stdin, nil
	case entry.discard:
		return eofReader{}, nil
	case entry.HostFile == nil:
		return nil, os.ErrInvalid
	}
	return entry.HostFile, nil
}

func (t *FDTable) writer(fd uint64) (io.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	switch {
	case !ok:
		return nil, os.ErrInvalid
	case fd == 1:
		return t.stdout, nil
	case fd == 2:
		return t.stderr, nil
	case entry.discard:
		return io.Discard, nil
	case entry.HostFile == nil:
		return nil, os.ErrInvalid
	}
	return entry.HostFile, nil
}

// Read reads from a descriptor.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	r, err := t.reader(fd)
	if err != nil {
		return 0, err
	}
	return r.Read(buf)
}

// Write writes to a descriptor.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	w, err := t.writer(fd)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// Seek sets the file position of a host file descriptor.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	t.mu.Lock()
	entry, ok := t.fds[fd]
	t.mu.Unlock()

	switch {
	case ok && entry.discard:
		return 0, nil
	case !ok || entry.HostFile == nil:
		return 0, os.ErrInvalid
	}
	return entry.HostFile.Seek(offset, whence)
}

// openFile is the restorable description of a host file descriptor.
type openFile struct {
	FD     uint64
	Flags  int
	Offset int64
	Path   string
}

func (t *FDTable) snapshot() ([]openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var files []openFile
	for fd, entry := range t.fds {
		if entry.HostFile == nil {
			continue
		}
		off, err := entry.HostFile.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		files = append(files, openFile{FD: fd, Flags: entry.Flags, Offset: off, Path: entry.Path})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].FD < files[j].FD })

	return files, nil
}

// restore closes every host file and reopens files at their recorded
// offsets. Files are never created or truncated again.
func (t *FDTable) restore(files []openFile, nextFD uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.fds {
		if entry.HostFile != nil {
			entry.HostFile.Close()
		}
	}
	t.reset()

	for _, of := range files {
		flags := of.Flags &^ (os.O_CREATE | os.O_TRUNC | os.O_EXCL)
		f, err := os.OpenFile(of.Path, flags, 0)
		if err != nil {
			return err
		}
		if _, err := f.Seek(of.Offset, io.SeekStart); err != nil {
			f.Close()
			return err
		}
		t.fds[of.FD] = &FileDescriptor{HostFile: f, Path: of.Path, Flags: of.Flags}
	}

	if nextFD > t.nextFD {
		t.nextFD = nextFD
	}

	return nil
}

// CloseAll closes every host file.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, entry := range t.fds {
		if entry.HostFile != nil {
			entry.HostFile.Close()
			delete(t.fds, fd)
		}
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
