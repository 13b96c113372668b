package fatdisk

import "io"

// File is an open handle on a regular file.
type File struct {
	vol    *Volume
	pos    position
	offset int64 // bytes from the start of the file
	size   uint32
	closed bool
}

// OpenFile opens the file at path for reading.
func (r *Registry) OpenFile(path string) (*File, error) {
	vol, info, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	if info == nil || info.IsDir() {
		return nil, ErrPath.WithMessage(path + " is not a file")
	}
	return &File{
		vol:  vol,
		pos:  newPosition(vol, info.firstCluster),
		size: info.size,
	}, nil
}

// Size returns the file's size as recorded in its directory entry.
func (f *File) Size() int64 { return int64(f.size) }

// Read copies up to len(p) bytes at the current offset, walking sector and
// cluster boundaries as needed, and stops cleanly at end of file. At EOF it
// returns 0, io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	remaining := int64(f.size) - f.offset
	if remaining <= 0 {
		return 0, io.EOF
	}
	want := len(p)
	if int64(want) > remaining {
		want = int(remaining)
	}

	n := 0
	for n < want {
		if f.pos.terminal {
			return n, ErrCorrupted.WithMessage("cluster chain ends before the recorded file size")
		}
		if err := f.vol.ensure(f.pos.sector); err != nil {
			return n, err
		}
		chunk := int(f.vol.sectorSize - f.pos.offset)
		if chunk > want-n {
			chunk = want - n
		}
		copy(p[n:n+chunk], f.vol.buf[f.pos.offset:f.pos.offset+uint32(chunk)])
		n += chunk
		f.offset += int64(chunk)
		if err := f.pos.advance(uint32(chunk)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Seek repositions the read offset per io.Seeker. Offsets outside [0, size]
// fail with ErrOutOfRange, as does a cluster chain that ends before the
// target offset.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.offset + offset
	case io.SeekEnd:
		target = int64(f.size) + offset
	default:
		return 0, ErrOutOfRange.WithMessage("bad seek whence")
	}
	if target < 0 || target > int64(f.size) {
		return 0, ErrOutOfRange
	}
	if err := f.pos.seekTo(uint32(target), target == int64(f.size)); err != nil {
		return 0, err
	}
	f.offset = target
	return target, nil
}

// Close releases the handle after flushing any pending volume write.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	return f.vol.flush()
}
