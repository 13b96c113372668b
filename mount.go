package fatdisk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/fatdisk/fatdisk/blockdev"
)

// MountFlags alter how Mount attaches a disk's volumes.
type MountFlags int

const (
	// MountReadOnly mounts every volume on the disk read-only: SetLabel and
	// AllocateCluster fail with ErrReadOnly.
	MountReadOnly = MountFlags(1 << iota)
)

// Registry tracks the live volumes and the drive letters they occupy.
// Letters are assigned from 'C' upward, lowest available first, across at
// most 32 slots. Mount and Eject are the only operations that modify the
// volume list.
type Registry struct {
	head    *Volume
	letters bitmap.Bitmap
	log     *slog.Logger
}

const maxVolumes = 32
const firstDriveLetter = 'C'

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		letters: bitmap.New(maxVolumes),
		log:     logger,
	}
}

// Master Boot Record layout.
const (
	mbrPartitionTableOff  = 446
	mbrPartitionEntrySize = 16
	mbrSignatureOff       = 510
	bootSignature         = 0xAA55
)

// Partition is one entry of an MBR partition table.
type Partition struct {
	Index   int
	Status  byte
	Type    byte
	LBA     uint32
	Sectors uint32
}

// ScanDisk reads the MBR at sector 0 and returns the partition records with a
// nonzero starting sector. The disk must already be initialized.
func ScanDisk(dev blockdev.Device) ([]Partition, error) {
	buf := make([]byte, dev.SectorSize())
	if err := dev.ReadSectors(buf, 0, 1); err != nil {
		return nil, ErrIO.WrapError(err)
	}
	if binary.LittleEndian.Uint16(buf[mbrSignatureOff:]) != bootSignature {
		return nil, ErrCorrupted.WithMessage("missing MBR boot signature")
	}
	var parts []Partition
	for i := 0; i < 4; i++ {
		entry := buf[mbrPartitionTableOff+i*mbrPartitionEntrySize:]
		part := Partition{
			Index:   i,
			Status:  entry[0],
			Type:    entry[4],
			LBA:     binary.LittleEndian.Uint32(entry[8:]),
			Sectors: binary.LittleEndian.Uint32(entry[12:]),
		}
		if part.LBA == 0 {
			continue
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// BIOS Parameter Block layout, FAT32 fields.
const (
	bpbBytesPerSectorOff = 11
	bpbSectorsPerClusOff = 13
	bpbReservedOff       = 14
	bpbNumFATsOff        = 16
	bpbRootEntCountOff   = 17
	bpbTotalSectors16Off = 19
	bpbFATSize16Off      = 22
	bpbTotalSectors32Off = 32
	bpbFATSize32Off      = 36
	bpbRootClusterOff    = 44
	bpbFSInfoOff         = 48
	bpbVolLabOff         = 71
	bpbFSType16Off       = 54
	bpbFSType32Off       = 82
)

// fat32Threshold is the minimum cluster count of a FAT32 volume; anything
// smaller is FAT12/16. The value comes from Microsoft's FAT documentation.
const fat32Threshold = 65525

// bpbGeometry is the subset of the BPB the driver needs, plus derived counts.
type bpbGeometry struct {
	sectorSize    uint32
	clusterSize   uint32 // sectors
	reserved      uint32
	numFATs       uint8
	fatSectors    uint32 // one FAT copy
	rootSectors   uint32 // zero on FAT32
	totalSectors  uint32
	totalClusters uint32
	rootCluster   ClusterID
	fsinfoSector  uint32
	label         [LabelLength]byte
}

// parseBPB validates a partition's first sector as a FAT32 BPB and extracts
// its geometry. Non-FAT32 volumes, including valid FAT12/16 ones, fail with
// ErrNotFAT32.
func parseBPB(buf []byte) (bpbGeometry, error) {
	var geo bpbGeometry
	if binary.LittleEndian.Uint16(buf[mbrSignatureOff:]) != bootSignature {
		return geo, ErrNotFAT32.WithMessage("missing boot-sector signature")
	}
	if !bytes.Contains(buf[bpbFSType32Off:bpbFSType32Off+8], []byte("FAT")) &&
		!bytes.Contains(buf[bpbFSType16Off:bpbFSType16Off+8], []byte("FAT")) {
		return geo, ErrNotFAT32.WithMessage("no FAT file-system type string")
	}

	geo.sectorSize = uint32(binary.LittleEndian.Uint16(buf[bpbBytesPerSectorOff:]))
	geo.clusterSize = uint32(buf[bpbSectorsPerClusOff])
	geo.reserved = uint32(binary.LittleEndian.Uint16(buf[bpbReservedOff:]))
	geo.numFATs = buf[bpbNumFATsOff]

	switch geo.sectorSize {
	case 512, 1024, 2048, 4096:
	default:
		return geo, ErrNotFAT32.WithMessage("sector size must be 512, 1024, 2048, or 4096")
	}
	if geo.clusterSize == 0 || geo.clusterSize&(geo.clusterSize-1) != 0 {
		return geo, ErrNotFAT32.WithMessage("sectors per cluster must be a power of two")
	}
	if geo.reserved == 0 || geo.numFATs == 0 {
		return geo, ErrNotFAT32.WithMessage("reserved sector count and FAT count must be nonzero")
	}

	geo.fatSectors = uint32(binary.LittleEndian.Uint16(buf[bpbFATSize16Off:]))
	if geo.fatSectors == 0 {
		geo.fatSectors = binary.LittleEndian.Uint32(buf[bpbFATSize32Off:])
	}
	geo.totalSectors = uint32(binary.LittleEndian.Uint16(buf[bpbTotalSectors16Off:]))
	if geo.totalSectors == 0 {
		geo.totalSectors = binary.LittleEndian.Uint32(buf[bpbTotalSectors32Off:])
	}

	rootEntries := uint32(binary.LittleEndian.Uint16(buf[bpbRootEntCountOff:]))
	geo.rootSectors = (rootEntries*32 + geo.sectorSize - 1) / geo.sectorSize

	overhead := geo.reserved + uint32(geo.numFATs)*geo.fatSectors + geo.rootSectors
	if geo.totalSectors <= overhead {
		return geo, ErrNotFAT32.WithMessage("no data sectors")
	}
	geo.totalClusters = (geo.totalSectors - overhead) / geo.clusterSize
	if geo.totalClusters < fat32Threshold {
		return geo, ErrNotFAT32.WithMessage("cluster count below the FAT32 threshold")
	}

	geo.rootCluster = ClusterID(binary.LittleEndian.Uint32(buf[bpbRootClusterOff:]))
	geo.fsinfoSector = uint32(binary.LittleEndian.Uint16(buf[bpbFSInfoOff:]))
	if geo.rootCluster < 2 {
		return geo, ErrNotFAT32.WithMessage("root cluster must be 2 or greater")
	}
	copy(geo.label[:], buf[bpbVolLabOff:bpbVolLabOff+LabelLength])
	return geo, nil
}

// Mount initializes the disk, scans its MBR, and attaches every FAT32
// partition as a volume with a fresh drive letter. Partitions that are not
// FAT32 are skipped. It returns the volumes mounted from this disk.
func (r *Registry) Mount(dev blockdev.Device, flags MountFlags) ([]*Volume, error) {
	if err := dev.Initialize(); err != nil {
		return nil, ErrIO.WrapError(err)
	}
	if dev.Status()&blockdev.StatusPresent == 0 {
		return nil, ErrNoDisk
	}

	parts, err := ScanDisk(dev)
	if err != nil {
		return nil, err
	}

	var mounted []*Volume
	for _, part := range parts {
		vol, err := r.mountPartition(dev, part, flags)
		if err != nil {
			if errors.Is(err, ErrNotFAT32) {
				if r.log != nil {
					r.log.Debug("skipping non-FAT32 partition",
						"index", part.Index, "type", part.Type, "lba", part.LBA)
				}
				continue
			}
			return mounted, err
		}
		mounted = append(mounted, vol)
		if r.log != nil {
			r.log.Info("mounted FAT32 volume",
				"letter", string(rune(vol.letter)), "lba", part.LBA, "label", vol.Label())
		}
	}
	if len(mounted) == 0 {
		return nil, ErrNotFAT32.WithMessage("disk has no FAT32 partition")
	}
	return mounted, nil
}

func (r *Registry) mountPartition(
	dev blockdev.Device,
	part Partition,
	flags MountFlags,
) (*Volume, error) {
	buf := make([]byte, dev.SectorSize())
	if err := dev.ReadSectors(buf, part.LBA, 1); err != nil {
		return nil, ErrIO.WrapError(err)
	}
	geo, err := parseBPB(buf)
	if err != nil {
		return nil, err
	}
	if geo.sectorSize != uint32(dev.SectorSize()) {
		return nil, ErrNotFAT32.WithMessage("BPB sector size disagrees with the device")
	}

	vol := &Volume{
		dev:           dev,
		readOnly:      flags&MountReadOnly != 0,
		sectorSize:    geo.sectorSize,
		clusterSize:   geo.clusterSize,
		totalSectors:  geo.totalSectors,
		totalClusters: geo.totalClusters,
		fatSectors:    geo.fatSectors,
		numFATs:       geo.numFATs,
		baseLBA:       SectorID(part.LBA),
		rootCluster:   geo.rootCluster,
		label:         geo.label,
		buf:           make([]byte, geo.sectorSize),
		bufLBA:        invalidLBA,
		log:           r.log,
	}
	vol.infoLBA = vol.baseLBA + SectorID(geo.fsinfoSector)
	vol.fatLBA = vol.baseLBA + SectorID(geo.reserved)
	vol.dataLBA = vol.fatLBA + SectorID(uint32(geo.numFATs)*geo.fatSectors+geo.rootSectors)
	vol.rootLBA = vol.clusterToSector(geo.rootCluster)

	// The in-root label entry is authoritative when present; the BPB copy
	// from parseBPB stands otherwise.
	if label, found, err := vol.readRootLabel(); err != nil {
		return nil, err
	} else if found {
		vol.label = label
	}

	letter, err := r.claimLetter()
	if err != nil {
		return nil, err
	}
	vol.letter = letter
	r.append(vol)
	return vol, nil
}

// Eject flushes and detaches every volume mounted from dev, releasing its
// drive letters. Flush failures don't stop the teardown; they are collected
// and reported together.
func (r *Registry) Eject(dev blockdev.Device) error {
	var result *multierror.Error
	link := &r.head
	for *link != nil {
		vol := *link
		if vol.dev != dev {
			link = &vol.next
			continue
		}
		if err := vol.flush(); err != nil {
			result = multierror.Append(result, err)
		}
		r.releaseLetter(vol.letter)
		*link = vol.next
		vol.next = nil
		if r.log != nil {
			r.log.Info("ejected volume", "letter", string(rune(vol.letter)))
		}
	}
	return result.ErrorOrNil()
}

// Volume returns the mounted volume with the given drive letter.
func (r *Registry) Volume(letter byte) (*Volume, error) {
	letter = upperASCII(letter)
	for vol := r.head; vol != nil; vol = vol.next {
		if vol.letter == letter {
			return vol, nil
		}
	}
	return nil, ErrNoVolume
}

// Volumes returns the live volumes in mount order.
func (r *Registry) Volumes() []*Volume {
	var vols []*Volume
	for vol := r.head; vol != nil; vol = vol.next {
		vols = append(vols, vol)
	}
	return vols
}

func (r *Registry) append(vol *Volume) {
	link := &r.head
	for *link != nil {
		link = &(*link).next
	}
	*link = vol
}

func (r *Registry) claimLetter() (byte, error) {
	for i := 0; i < maxVolumes; i++ {
		if !r.letters.Get(i) {
			r.letters.Set(i, true)
			return firstDriveLetter + byte(i), nil
		}
	}
	return 0, ErrTooManyVolumes
}

func (r *Registry) releaseLetter(letter byte) {
	i := int(letter) - firstDriveLetter
	if i >= 0 && i < maxVolumes {
		r.letters.Set(i, false)
	}
}
