// Package fatdisk implements a read-mostly driver for FAT32 volumes living on
// sector-addressed block devices.
//
// A disk is handed to a [Registry], which parses its Master Boot Record,
// validates each partition's BIOS Parameter Block, and mounts every FAT32
// volume it finds under a drive letter starting at 'C'. Paths are rooted at
// those letters ("C:/logs/boot.txt"). Directories are enumerated with [Dir]
// handles, files are read and seeked with [File] handles, and metadata writes
// (volume label, cluster allocation) go through a per-volume single-sector
// write-back cache.
//
// The driver reads and writes only the first FAT copy. Formatting, file
// creation, and file extension are not implemented.
package fatdisk

// SectorID is a logical block address on the underlying device.
type SectorID uint32

// ClusterID is a FAT cluster number. Valid data clusters start at 2.
type ClusterID uint32

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

const invalidLBA = SectorID(0xFFFFFFFF)
