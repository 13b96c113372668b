package fatdisk

import "io"

// Dir is a cursor over the entries of one directory.
type Dir struct {
	vol    *Volume
	pos    position
	closed bool
}

// OpenDir opens the directory at path, which must name the root ("C:/") or a
// directory entry.
func (r *Registry) OpenDir(path string) (*Dir, error) {
	vol, info, err := r.resolve(path)
	if err != nil {
		return nil, err
	}
	start := vol.rootCluster
	if info != nil {
		if !info.IsDir() {
			return nil, ErrPath.WithMessage(path + " is not a directory")
		}
		if info.firstCluster < 2 {
			return nil, ErrCorrupted.WithMessage("directory entry with no cluster chain")
		}
		start = info.firstCluster
	}
	return &Dir{vol: vol, pos: newPosition(vol, start)}, nil
}

// Read decodes the next logical entry: a short entry plus any long-name chain
// preceding it. It returns io.EOF at the directory's 0x00 terminator and
// ErrCorrupted when a long-name chain's checksum does not match its anchor.
func (d *Dir) Read() (Info, error) {
	if d.closed {
		return Info{}, ErrClosed
	}

	var info Info
	var chainCRC byte
	haveLongName := false

	for !d.pos.terminal {
		if err := d.vol.ensure(d.pos.sector); err != nil {
			return Info{}, err
		}
		var entry [DirentSize]byte
		copy(entry[:], d.vol.buf[d.pos.offset:d.pos.offset+DirentSize])

		first := entry[direntNameOff]
		attr := entry[direntAttrOff]
		switch {
		case first == direntFree:
			return Info{}, io.EOF

		case first == direntDeleted || first == direntDeletedEscape:
			info = Info{}
			haveLongName = false

		case attr&attrMask == attrLongName:
			if first&lfnSeqLastFlag != 0 || !haveLongName {
				info = Info{}
				chainCRC = entry[lfnChecksumOff]
				haveLongName = true
			} else if entry[lfnChecksumOff] != chainCRC {
				return Info{}, ErrCorrupted.WithMessage("long name chain carries inconsistent checksums")
			}
			info.accumulateLongName(entry[:])

		case attr&AttrVolumeLabel != 0:
			// Skip the volume label entry; it is not a listable object.
			info = Info{}
			haveLongName = false

		default:
			if haveLongName && chainCRC != ShortNameChecksum(entry[:11]) {
				return Info{}, ErrCorrupted.WithMessage("long name checksum does not match its anchor")
			}
			info.fillFromShortEntry(entry[:], haveLongName)
			if err := d.pos.advanceEntry(); err != nil {
				return Info{}, err
			}
			return info, nil
		}

		if err := d.pos.advanceEntry(); err != nil {
			return Info{}, err
		}
	}
	// Walked off the chain without seeing a terminator: no more entries.
	return Info{}, io.EOF
}

// Rewind puts the cursor back at the directory's first entry.
func (d *Dir) Rewind() {
	d.pos.rewind()
}

// Close releases the handle after flushing any pending volume write.
func (d *Dir) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	return d.vol.flush()
}
