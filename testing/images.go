// Package testing provides helpers for fabricating FAT32 disk images in
// memory so driver tests don't need image files checked into the repository.
package testing

import (
	"encoding/binary"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/require"

	"github.com/fatdisk/fatdisk/blockdev"
)

// ImageOptions describes the geometry of a fabricated disk image. The BPB
// advertises TotalSectors, but only the metadata region plus DataClusters
// clusters are actually backed by bytes; tests must stay inside that window.
type ImageOptions struct {
	SectorSize        uint32
	PartitionLBA      uint32
	PartitionType     byte
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	FATSectors        uint32
	TotalSectors      uint32
	RootCluster       uint32
	FSInfoSector      uint32
	FreeCount         uint32
	NextFree          uint32
	Label             string
	DataClusters      uint32
}

// DefaultOptions returns a geometry comfortably above the FAT32 cluster
// threshold: a partition at sector 2048 with 512-byte sectors, 8 sectors per
// cluster, 32 reserved sectors, and two FATs of 1024 sectors each.
func DefaultOptions() ImageOptions {
	return ImageOptions{
		SectorSize:        512,
		PartitionLBA:      2048,
		PartitionType:     0x0C,
		SectorsPerCluster: 8,
		ReservedSectors:   32,
		NumFATs:           2,
		FATSectors:        1024,
		TotalSectors:      530000,
		RootCluster:       2,
		FSInfoSector:      1,
		FreeCount:         65000,
		NextFree:          3,
		Label:             "TESTVOLUME ",
		DataClusters:      16,
	}
}

// Image is a fabricated MBR disk with one FAT32 partition.
type Image struct {
	Opts ImageOptions
	Data []byte
}

// NewImage builds an image: an MBR with one partition record, a FAT32 BPB,
// an FSInfo sector, and seeded FATs (media, reserved, and root-cluster
// entries). The root directory starts empty.
func NewImage(t *testing.T, opts ImageOptions) *Image {
	require.NotZero(t, opts.SectorSize, "sector size is required")
	require.NotZero(t, opts.SectorsPerCluster, "cluster size is required")

	backed := opts.PartitionLBA + opts.ReservedSectors +
		opts.NumFATs*opts.FATSectors + opts.DataClusters*opts.SectorsPerCluster
	img := &Image{
		Opts: opts,
		Data: make([]byte, backed*opts.SectorSize),
	}
	img.writeMBR(t)
	img.writeBPB(t)
	img.writeFSInfo(t)

	img.SetFAT(0, 0x0FFFFFF8)
	img.SetFAT(1, 0x0FFFFFFF)
	img.SetFAT(opts.RootCluster, 0x0FFFFFFF)
	return img
}

func (img *Image) writeMBR(t *testing.T) {
	sector := img.Sector(0)
	writer := bytewriter.New(sector[446:])

	var entry [16]byte
	entry[0] = 0x80
	entry[4] = img.Opts.PartitionType
	binary.LittleEndian.PutUint32(entry[8:], img.Opts.PartitionLBA)
	binary.LittleEndian.PutUint32(entry[12:], img.Opts.TotalSectors)
	_, err := writer.Write(entry[:])
	require.NoError(t, err, "writing MBR partition record")

	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
}

func (img *Image) writeBPB(t *testing.T) {
	sector := img.Sector(img.Opts.PartitionLBA)
	writer := bytewriter.New(sector[:3])
	_, err := writer.Write([]byte{0xEB, 0x58, 0x90})
	require.NoError(t, err, "writing BPB jump")

	binary.LittleEndian.PutUint16(sector[11:], uint16(img.Opts.SectorSize))
	sector[13] = byte(img.Opts.SectorsPerCluster)
	binary.LittleEndian.PutUint16(sector[14:], uint16(img.Opts.ReservedSectors))
	sector[16] = byte(img.Opts.NumFATs)
	// Root entry count and the 16-bit totals stay zero on FAT32.
	binary.LittleEndian.PutUint32(sector[32:], img.Opts.TotalSectors)
	binary.LittleEndian.PutUint32(sector[36:], img.Opts.FATSectors)
	binary.LittleEndian.PutUint32(sector[44:], img.Opts.RootCluster)
	binary.LittleEndian.PutUint16(sector[48:], uint16(img.Opts.FSInfoSector))
	copy(sector[71:82], padLabel(img.Opts.Label))
	copy(sector[82:90], []byte("FAT32   "))
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
}

func (img *Image) writeFSInfo(t *testing.T) {
	sector := img.Sector(img.Opts.PartitionLBA + img.Opts.FSInfoSector)
	binary.LittleEndian.PutUint32(sector[0:], 0x41615252)
	binary.LittleEndian.PutUint32(sector[484:], 0x61417272)
	binary.LittleEndian.PutUint32(sector[488:], img.Opts.FreeCount)
	binary.LittleEndian.PutUint32(sector[492:], img.Opts.NextFree)
	binary.LittleEndian.PutUint16(sector[510:], 0xAA55)
}

func padLabel(label string) []byte {
	padded := make([]byte, 11)
	for i := range padded {
		padded[i] = ' '
	}
	copy(padded, label)
	return padded
}

// Sector returns the bytes backing one sector of the image.
func (img *Image) Sector(lba uint32) []byte {
	off := lba * img.Opts.SectorSize
	return img.Data[off : off+img.Opts.SectorSize]
}

// fatOffset returns the byte offset of a cluster's entry in one FAT copy.
func (img *Image) fatOffset(copyIndex, cluster uint32) uint32 {
	fatStart := (img.Opts.PartitionLBA + img.Opts.ReservedSectors +
		copyIndex*img.Opts.FATSectors) * img.Opts.SectorSize
	return fatStart + cluster*4
}

// SetFAT writes a FAT entry into every FAT copy.
func (img *Image) SetFAT(cluster, value uint32) {
	for i := uint32(0); i < img.Opts.NumFATs; i++ {
		binary.LittleEndian.PutUint32(img.Data[img.fatOffset(i, cluster):], value)
	}
}

// FATEntry reads a cluster's entry from the first FAT copy.
func (img *Image) FATEntry(cluster uint32) uint32 {
	return binary.LittleEndian.Uint32(img.Data[img.fatOffset(0, cluster):])
}

// FSInfo reads back the free-count and next-free fields.
func (img *Image) FSInfo() (freeCount, nextFree uint32) {
	sector := img.Sector(img.Opts.PartitionLBA + img.Opts.FSInfoSector)
	return binary.LittleEndian.Uint32(sector[488:]), binary.LittleEndian.Uint32(sector[492:])
}

// ClusterOffset returns the byte offset of a data cluster's first sector.
func (img *Image) ClusterOffset(cluster uint32) uint32 {
	dataStart := img.Opts.PartitionLBA + img.Opts.ReservedSectors +
		img.Opts.NumFATs*img.Opts.FATSectors
	return (dataStart + (cluster-2)*img.Opts.SectorsPerCluster) * img.Opts.SectorSize
}

// FillCluster fills a data cluster's bytes from a generator function.
func (img *Image) FillCluster(cluster uint32, gen func(i uint32) byte) {
	off := img.ClusterOffset(cluster)
	size := img.Opts.SectorsPerCluster * img.Opts.SectorSize
	for i := uint32(0); i < size; i++ {
		img.Data[off+i] = gen(i)
	}
}

// WriteDirent stores a raw 32-byte entry at the given slot of a directory
// cluster.
func (img *Image) WriteDirent(t *testing.T, cluster uint32, slot int, entry [32]byte) {
	off := img.ClusterOffset(cluster) + uint32(slot)*32
	writer := bytewriter.New(img.Data[off : off+32])
	_, err := writer.Write(entry[:])
	require.NoError(t, err, "writing directory entry")
}

// ShortEntry builds a raw 8.3 directory entry. name must be exactly the
// 11 on-disk bytes ("README  TXT").
func ShortEntry(t *testing.T, name string, attr byte, cluster, size uint32) [32]byte {
	require.Len(t, name, 11, "short names are exactly 11 bytes")
	var entry [32]byte
	copy(entry[:11], name)
	entry[11] = attr
	binary.LittleEndian.PutUint16(entry[20:], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(entry[26:], uint16(cluster))
	binary.LittleEndian.PutUint32(entry[28:], size)
	return entry
}

var lfnUnitOffsets = [13]byte{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// shortNameChecksum mirrors the on-disk checksum rule so fabricated chains
// are bound to their anchors independently of the driver's implementation.
func shortNameChecksum(sfn []byte) byte {
	var sum byte
	for i := 0; i < 11; i++ {
		sum = ((sum & 1) << 7) + (sum >> 1) + sfn[i]
	}
	return sum
}

// LongNameChain builds the long-name entries for name, bound to the anchor by
// checksum, in on-disk order (highest fragment first). Write them immediately
// before the anchor entry.
func LongNameChain(t *testing.T, name string, anchor [32]byte) [][32]byte {
	require.NotEmpty(t, name)
	sum := shortNameChecksum(anchor[:11])
	count := (len(name) + 12) / 13

	entries := make([][32]byte, 0, count)
	for seq := count; seq >= 1; seq-- {
		var entry [32]byte
		entry[0] = byte(seq)
		if seq == count {
			entry[0] |= 0x40
		}
		entry[11] = 0x0F
		entry[13] = sum
		for s, off := range lfnUnitOffsets {
			pos := 13*(seq-1) + s
			var unit uint16
			switch {
			case pos < len(name):
				unit = uint16(name[pos])
			case pos == len(name):
				unit = 0x0000
			default:
				unit = 0xFFFF
			}
			binary.LittleEndian.PutUint16(entry[off:], unit)
		}
		entries = append(entries, entry)
	}
	return entries
}

// Device wraps the image bytes as a block device.
func (img *Image) Device() *blockdev.Image {
	return blockdev.FromSlice(img.Data, uint(img.Opts.SectorSize))
}
