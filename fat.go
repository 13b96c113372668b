package fatdisk

import "encoding/binary"

// FAT32 entry values. Only the low 28 bits of an entry are meaningful; the
// top four are reserved and preserved on write.
const (
	fatEntryMask  = 0x0FFFFFFF
	fatFree       = 0x00000000
	fatBadCluster = 0x0FFFFFF7
	fatEOCMin     = 0x0FFFFFF8
	fatEOC        = 0x0FFFFFFF
)

// FSInfo sector layout.
const (
	fsinfoLeadSigOff    = 0
	fsinfoStrucSigOff   = 484
	fsinfoFreeCountOff  = 488
	fsinfoNextFreeOff   = 492
	fsinfoLeadSigValue  = 0x41615252
	fsinfoStrucSigValue = 0x61417272
)

// isEndOfChain reports whether a FAT entry terminates a cluster chain.
func isEndOfChain(entry uint32) bool {
	return entry&fatEntryMask >= fatEOCMin
}

// fatLocation returns the sector and byte offset holding a cluster's FAT
// entry. A 512-byte sector holds 128 entries.
func (v *Volume) fatLocation(c ClusterID) (SectorID, uint32) {
	entriesPerSector := v.sectorSize / 4
	lba := v.fatLBA + SectorID(uint32(c)/entriesPerSector)
	offset := (uint32(c) % entriesPerSector) * 4
	return lba, offset
}

// fatEntry reads the FAT entry for a cluster.
func (v *Volume) fatEntry(c ClusterID) (uint32, error) {
	lba, offset := v.fatLocation(c)
	if err := v.ensure(lba); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.buf[offset:]), nil
}

// setFATEntry overwrites the low 28 bits of a cluster's FAT entry, keeping
// the reserved top bits, and writes the sector through to the device.
func (v *Volume) setFATEntry(c ClusterID, value uint32) error {
	if v.readOnly {
		return ErrReadOnly
	}
	lba, offset := v.fatLocation(c)
	if err := v.ensure(lba); err != nil {
		return err
	}
	old := binary.LittleEndian.Uint32(v.buf[offset:])
	binary.LittleEndian.PutUint32(v.buf[offset:], (value&fatEntryMask)|(old&^uint32(fatEntryMask)))
	v.dirty = true
	return v.flush()
}

// nextInChain follows the FAT one hop from c. The second return value is
// false when c is the last cluster of its chain.
func (v *Volume) nextInChain(c ClusterID) (ClusterID, bool, error) {
	entry, err := v.fatEntry(c)
	if err != nil {
		return 0, false, err
	}
	if isEndOfChain(entry) {
		return 0, false, nil
	}
	next := entry & fatEntryMask
	if next < 2 || next >= v.totalClusters+2 || next == fatBadCluster {
		return 0, false, ErrCorrupted.WithMessage("cluster chain points outside the volume")
	}
	return ClusterID(next), true, nil
}

// AllocateCluster claims one free cluster, marks it end-of-chain, and updates
// the FSInfo next-free hint and free count. The scan starts at the hint,
// moves strictly forward, wraps past the end of the FAT to cluster 2, and
// returns ErrDiskFull once every cluster has been examined.
func (v *Volume) AllocateCluster() (ClusterID, error) {
	if v.readOnly {
		return 0, ErrReadOnly
	}
	if err := v.ensure(v.infoLBA); err != nil {
		return 0, err
	}
	hint := uint32(2)
	freeCount := ^uint32(0)
	if binary.LittleEndian.Uint32(v.buf[fsinfoLeadSigOff:]) == fsinfoLeadSigValue &&
		binary.LittleEndian.Uint32(v.buf[fsinfoStrucSigOff:]) == fsinfoStrucSigValue {
		hint = binary.LittleEndian.Uint32(v.buf[fsinfoNextFreeOff:])
		freeCount = binary.LittleEndian.Uint32(v.buf[fsinfoFreeCountOff:])
	} else {
		v.trace("fat: FSInfo signatures invalid, scanning from cluster 2",
			"letter", string(rune(v.letter)))
	}

	maxEntry := v.totalClusters + 2
	if hint < 2 || hint >= maxEntry {
		hint = 2
	}

	c := hint
	for scanned := uint32(0); scanned < v.totalClusters; scanned++ {
		entry, err := v.fatEntry(ClusterID(c))
		if err != nil {
			return 0, err
		}
		if entry&fatEntryMask == fatFree {
			if err := v.setFATEntry(ClusterID(c), fatEOC); err != nil {
				return 0, err
			}
			next := c + 1
			if next >= maxEntry {
				next = 2
			}
			if err := v.writeAllocHint(next, freeCount); err != nil {
				return 0, err
			}
			v.trace("fat: allocated cluster", "letter", string(rune(v.letter)), "cluster", c)
			return ClusterID(c), nil
		}
		c++
		if c >= maxEntry {
			c = 2
		}
	}
	return 0, ErrDiskFull
}

// writeAllocHint persists a new next-free hint and a decremented free count
// into the FSInfo sector.
func (v *Volume) writeAllocHint(nextFree, freeCount uint32) error {
	if err := v.ensure(v.infoLBA); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(v.buf[fsinfoNextFreeOff:], nextFree)
	if freeCount != ^uint32(0) && freeCount > 0 {
		binary.LittleEndian.PutUint32(v.buf[fsinfoFreeCountOff:], freeCount-1)
	}
	v.dirty = true
	return v.flush()
}
