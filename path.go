package fatdisk

import "strings"

// splitPath validates a "L:/a/b/c" path and splits it into the drive letter
// and its fragments. A trailing slash and repeated slashes are tolerated.
func splitPath(path string) (byte, []string, error) {
	if len(path) < 3 {
		return 0, nil, ErrPath.WithMessage("path shorter than \"X:/\"")
	}
	if path[1] != ':' || path[2] != '/' {
		return 0, nil, ErrPath.WithMessage("path must start with a drive letter, ':' and '/'")
	}
	letter := upperASCII(path[0])
	if letter < 'A' || letter > 'Z' {
		return 0, nil, ErrPath.WithMessage("drive letter must be A..Z")
	}
	var fragments []string
	for _, fragment := range strings.Split(path[3:], "/") {
		if fragment == "" {
			continue
		}
		fragments = append(fragments, fragment)
	}
	return letter, fragments, nil
}

// searchDir scans the directory chain starting at start for an entry whose
// name matches the query, honoring long-name chains when their checksum binds
// them to the following anchor. A checksum mismatch during lookup only means
// "this entry doesn't match": the chain is discarded and scanning continues.
func (v *Volume) searchDir(start ClusterID, name string) (Info, error) {
	query := []byte(name)
	pos := newPosition(v, start)

	// lfnCRC is the checksum byte of the active long-name chain, zero when no
	// chain is active. lfnMatch tracks whether every fragment of the active
	// chain matched the query.
	var lfnCRC byte
	lfnMatch := false

	for !pos.terminal {
		if err := v.ensure(pos.sector); err != nil {
			return Info{}, err
		}
		var entry [DirentSize]byte
		copy(entry[:], v.buf[pos.offset:pos.offset+DirentSize])

		first := entry[direntNameOff]
		attr := entry[direntAttrOff]
		switch {
		case first == direntFree:
			return Info{}, ErrPath.WithMessage("no entry named " + name)

		case first == direntDeleted || first == direntDeletedEscape:
			lfnCRC, lfnMatch = 0, false

		case attr&attrMask == attrLongName:
			if first&lfnSeqLastFlag != 0 {
				// Chain start (highest fragment comes first on disk).
				lfnMatch = true
			}
			lfnMatch = lfnMatch && longNameFragmentMatches(entry[:], query)
			lfnCRC = entry[lfnChecksumOff]

		case attr&AttrVolumeLabel != 0:
			// The volume label is not a file; it also ends any pending chain.
			lfnCRC, lfnMatch = 0, false

		default:
			hit := false
			if lfnCRC != 0 {
				hit = lfnMatch && lfnCRC == ShortNameChecksum(entry[:11])
				lfnCRC, lfnMatch = 0, false
			} else {
				hit = shortNameMatches(entry[:11], query)
			}
			if hit {
				var info Info
				info.fillFromShortEntry(entry[:], false)
				return info, nil
			}
		}

		if err := pos.advanceEntry(); err != nil {
			return Info{}, err
		}
	}
	// End-of-chain past the logical end of the directory: no more entries.
	return Info{}, ErrPath.WithMessage("no entry named " + name)
}

// resolve descends from the drive-letter root to the path's final fragment.
// It returns the owning volume and the final fragment's entry, or a nil Info
// when the path names the root itself. Intermediate fragments must be
// directories.
func (r *Registry) resolve(path string) (*Volume, *Info, error) {
	letter, fragments, err := splitPath(path)
	if err != nil {
		return nil, nil, err
	}
	vol, err := r.Volume(letter)
	if err != nil {
		return nil, nil, err
	}

	current := vol.rootCluster
	for i, fragment := range fragments {
		info, err := vol.searchDir(current, fragment)
		if err != nil {
			return nil, nil, err
		}
		if i == len(fragments)-1 {
			return vol, &info, nil
		}
		if !info.IsDir() {
			return nil, nil, ErrPath.WithMessage(fragment + " is not a directory")
		}
		if info.firstCluster < 2 {
			return nil, nil, ErrCorrupted.WithMessage("directory entry with no cluster chain")
		}
		current = info.firstCluster
	}
	return vol, nil, nil
}
