package fatdisk

// position is a cursor into a cluster chain: the current cluster, the current
// sector within it, and a byte offset within that sector. Directory handles
// advance it 32 bytes at a time; file handles advance it by arbitrary byte
// counts. Crossing the last sector of a cluster follows the FAT; reaching
// end-of-chain makes the cursor terminal.
type position struct {
	vol      *Volume
	start    ClusterID
	cluster  ClusterID
	sector   SectorID
	offset   uint32
	terminal bool
}

func newPosition(v *Volume, start ClusterID) position {
	pos := position{vol: v, start: start}
	pos.rewind()
	return pos
}

// rewind puts the cursor back at the first byte of the chain.
func (p *position) rewind() {
	p.cluster = p.start
	p.offset = 0
	if p.start < 2 {
		// No chain at all, e.g. a zero-length file.
		p.terminal = true
		return
	}
	p.sector = p.vol.clusterToSector(p.start)
	p.terminal = false
}

// advanceEntry steps the cursor over one 32-byte directory entry.
func (p *position) advanceEntry() error {
	return p.advance(DirentSize)
}

// advance moves the cursor forward n bytes, stepping sectors and clusters as
// boundaries are crossed. Running off the end of the chain leaves the cursor
// terminal rather than failing: for directory scans that simply means "no
// more entries".
func (p *position) advance(n uint32) error {
	if p.terminal {
		return nil
	}
	p.offset += n
	for p.offset >= p.vol.sectorSize {
		p.offset -= p.vol.sectorSize
		if err := p.nextSector(); err != nil {
			return err
		}
		if p.terminal {
			p.offset = 0
			return nil
		}
	}
	return nil
}

// nextSector steps to the following sector, consulting the FAT when the
// cursor walks off the current cluster.
func (p *position) nextSector() error {
	p.sector++
	clusterEnd := p.vol.clusterToSector(p.cluster) + SectorID(p.vol.clusterSize)
	if p.sector < clusterEnd {
		return nil
	}
	next, ok, err := p.vol.nextInChain(p.cluster)
	if err != nil {
		return err
	}
	if !ok {
		p.terminal = true
		return nil
	}
	p.cluster = next
	p.sector = p.vol.clusterToSector(next)
	return nil
}

// seekTo repositions the cursor at a byte offset from the start of the chain:
// one FAT hop per whole cluster, then direct sector/offset placement inside
// the final cluster. atEnd permits landing exactly on the byte after the last
// cluster (the EOF position); hitting end-of-chain anywhere else reports
// ErrOutOfRange.
func (p *position) seekTo(offset uint32, atEnd bool) error {
	p.rewind()
	if p.terminal {
		if offset == 0 {
			return nil
		}
		return ErrOutOfRange.WithMessage("seek in an empty chain")
	}
	clusterBytes := p.vol.sectorSize * p.vol.clusterSize
	hops := offset / clusterBytes
	within := offset % clusterBytes
	for i := uint32(0); i < hops; i++ {
		next, ok, err := p.vol.nextInChain(p.cluster)
		if err != nil {
			return err
		}
		if !ok {
			if atEnd && within == 0 && i == hops-1 {
				p.terminal = true
				return nil
			}
			return ErrOutOfRange.WithMessage("seek past the end of the cluster chain")
		}
		p.cluster = next
	}
	p.sector = p.vol.clusterToSector(p.cluster) + SectorID(within/p.vol.sectorSize)
	p.offset = within % p.vol.sectorSize
	return nil
}
