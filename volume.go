package fatdisk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/fatdisk/fatdisk/blockdev"
)

// LabelLength is the size of a FAT volume label, space-padded on disk.
const LabelLength = 11

// Volume is one mounted FAT32 partition. It owns a single-sector write-back
// cache through which all metadata and data reads on this volume pass.
type Volume struct {
	letter   byte
	dev      blockdev.Device
	readOnly bool

	sectorSize    uint32 // bytes per sector
	clusterSize   uint32 // sectors per cluster
	totalSectors  uint32 // sectors in the partition
	totalClusters uint32 // data clusters
	fatSectors    uint32 // sectors in one FAT copy
	numFATs       uint8

	baseLBA SectorID // first sector of the partition (the BPB)
	infoLBA SectorID // FSInfo sector
	fatLBA  SectorID // first sector of the first FAT
	dataLBA SectorID // first data sector
	rootLBA SectorID // first sector of the root cluster chain

	rootCluster ClusterID
	label       [LabelLength]byte

	// The sector cache: buf mirrors the sector at bufLBA. While dirty is set
	// the buffer holds bytes not yet written back. bufLBA is invalidLBA when
	// the buffer contents can't be trusted.
	buf    []byte
	bufLBA SectorID
	dirty  bool

	log  *slog.Logger
	next *Volume
}

// Letter returns the drive letter this volume is mounted under.
func (v *Volume) Letter() byte { return v.letter }

// SectorSize returns the volume's sector size in bytes.
func (v *Volume) SectorSize() uint32 { return v.sectorSize }

// ClusterSectors returns the number of sectors per cluster.
func (v *Volume) ClusterSectors() uint32 { return v.clusterSize }

// TotalClusters returns the number of data clusters on the volume.
func (v *Volume) TotalClusters() uint32 { return v.totalClusters }

func (v *Volume) trace(msg string, args ...any) {
	if v.log != nil {
		v.log.Debug(msg, args...)
	}
}

// ensure makes the cache mirror the sector at lba, flushing any pending write
// first. On a read failure the cache is invalidated so the next ensure
// refetches rather than serving stale bytes.
func (v *Volume) ensure(lba SectorID) error {
	if lba == v.bufLBA {
		return nil
	}
	if err := v.flush(); err != nil {
		return err
	}
	if err := v.dev.ReadSectors(v.buf, uint32(lba), 1); err != nil {
		v.bufLBA = invalidLBA
		return ErrIO.WrapError(err)
	}
	v.bufLBA = lba
	return nil
}

// flush writes the cached sector back if it is dirty and clears the flag.
func (v *Volume) flush() error {
	if !v.dirty {
		return nil
	}
	v.trace("volume: flush", "letter", string(rune(v.letter)), "lba", uint32(v.bufLBA))
	if err := v.dev.WriteSectors(v.buf, uint32(v.bufLBA), 1); err != nil {
		return ErrIO.WrapError(err)
	}
	v.dirty = false
	return nil
}

// Sync writes any pending cached sector back to the device.
func (v *Volume) Sync() error {
	return v.flush()
}

// clusterToSector returns the first sector of a cluster.
func (v *Volume) clusterToSector(c ClusterID) SectorID {
	return SectorID((uint32(c)-2)*v.clusterSize) + v.dataLBA
}

// sectorToCluster returns the cluster containing the given data sector.
func (v *Volume) sectorToCluster(s SectorID) ClusterID {
	return ClusterID((uint32(s)-uint32(v.dataLBA))/v.clusterSize + 2)
}

// Label returns the volume label without trailing padding. The label read
// from the root directory at mount time is authoritative; the BPB copy is the
// fallback.
func (v *Volume) Label() string {
	return string(bytes.TrimRight(v.label[:], " "))
}

// SetLabel rewrites the volume label: the in-root volume-label entry (created
// in the first free slot if the root has none) and the BPB copy.
func (v *Volume) SetLabel(label string) error {
	if v.readOnly {
		return ErrReadOnly
	}
	if len(label) > LabelLength {
		return ErrOutOfRange.WithMessage("label longer than 11 bytes")
	}
	var padded [LabelLength]byte
	copy(padded[:], bytes.Repeat([]byte{' '}, LabelLength))
	copy(padded[:], label)

	slot, found, err := v.findRootLabelSlot()
	if err != nil {
		return err
	}
	if err := v.ensure(slot.sector); err != nil {
		return err
	}
	entry := v.buf[slot.offset : slot.offset+DirentSize]
	if !found {
		for i := range entry {
			entry[i] = 0
		}
		entry[direntAttrOff] = AttrVolumeLabel
	}
	copy(entry[direntNameOff:direntNameOff+LabelLength], padded[:])
	v.dirty = true
	if err := v.flush(); err != nil {
		return err
	}

	// Mirror into the BPB's label field.
	if err := v.ensure(v.baseLBA); err != nil {
		return err
	}
	copy(v.buf[bpbVolLabOff:bpbVolLabOff+LabelLength], padded[:])
	v.dirty = true
	if err := v.flush(); err != nil {
		return err
	}

	v.label = padded
	return nil
}

// findRootLabelSlot scans the root directory for the volume-label entry. If
// none exists it reports the first reusable slot (a deleted entry or the
// 0x00 terminator) instead, with found == false. A genuine long-name entry
// also carries the volume-label attribute bit, so entries matching the
// long-name attribute mask are never labels.
func (v *Volume) findRootLabelSlot() (position, bool, error) {
	pos := newPosition(v, v.rootCluster)
	free := position{}
	haveFree := false
	for !pos.terminal {
		if err := v.ensure(pos.sector); err != nil {
			return position{}, false, err
		}
		entry := v.buf[pos.offset : pos.offset+DirentSize]
		first := entry[direntNameOff]
		if first == direntFree {
			if haveFree {
				return free, false, nil
			}
			return pos, false, nil
		}
		attr := entry[direntAttrOff]
		switch {
		case first == direntDeleted || first == direntDeletedEscape:
			if !haveFree {
				free, haveFree = pos, true
			}
		case attr&attrMask == attrLongName:
			// Not a label despite the 0x08 bit.
		case attr&AttrVolumeLabel != 0:
			return pos, true, nil
		}
		if err := pos.advanceEntry(); err != nil {
			return position{}, false, err
		}
	}
	if haveFree {
		return free, false, nil
	}
	return position{}, false, ErrDiskFull.WithMessage("root directory has no free entry for a label")
}

// readRootLabel fetches the in-root volume label, if one exists. A root
// directory with no label and no free slot simply has no label.
func (v *Volume) readRootLabel() ([LabelLength]byte, bool, error) {
	var label [LabelLength]byte
	pos, found, err := v.findRootLabelSlot()
	if err != nil {
		if errors.Is(err, ErrDiskFull) {
			return label, false, nil
		}
		return label, false, err
	}
	if !found {
		return label, false, nil
	}
	if err := v.ensure(pos.sector); err != nil {
		return label, false, err
	}
	copy(label[:], v.buf[pos.offset+direntNameOff:pos.offset+direntNameOff+LabelLength])
	return label, true, nil
}

// VolumeStat is a point-in-time summary of a mounted volume.
type VolumeStat struct {
	Letter            byte
	Label             string
	SectorSize        uint32
	SectorsPerCluster uint32
	TotalClusters     uint32
	// FreeClusters comes from the FSInfo sector and may be stale or unknown
	// (reported as ^uint32(0)) if the hint sector is unreadable.
	FreeClusters uint32
}

// Stat reports the volume's geometry and the FSInfo free-cluster count.
func (v *Volume) Stat() (VolumeStat, error) {
	stat := VolumeStat{
		Letter:            v.letter,
		Label:             v.Label(),
		SectorSize:        v.sectorSize,
		SectorsPerCluster: v.clusterSize,
		TotalClusters:     v.totalClusters,
		FreeClusters:      ^uint32(0),
	}
	if err := v.ensure(v.infoLBA); err != nil {
		return stat, err
	}
	if binary.LittleEndian.Uint32(v.buf[fsinfoLeadSigOff:]) == fsinfoLeadSigValue {
		stat.FreeClusters = binary.LittleEndian.Uint32(v.buf[fsinfoFreeCountOff:])
	}
	return stat, nil
}
