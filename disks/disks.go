// Package disks carries a registry of MBR partition type identifiers, used
// when reporting the partitions found on a disk.
package disks

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// PartitionType describes one MBR partition type identifier.
type PartitionType struct {
	ID   uint8  `csv:"id"`
	Name string `csv:"name"`
	// FAT32 marks the identifiers that declare a FAT32 file system.
	FAT32 uint8 `csv:"fat32"`
}

//go:embed partition-types.csv
var partitionTypesRawCSV string
var partitionTypes = map[uint8]PartitionType{}

// TypeName returns a human-readable name for a partition type identifier.
func TypeName(id uint8) string {
	if pt, ok := partitionTypes[id]; ok {
		return pt.Name
	}
	return fmt.Sprintf("unknown (0x%02X)", id)
}

// DeclaresFAT32 reports whether the partition type identifier declares a
// FAT32 file system. The driver validates the BPB regardless; this only
// reflects what the partition table claims.
func DeclaresFAT32(id uint8) bool {
	return partitionTypes[id].FAT32 != 0
}

func init() {
	reader := strings.NewReader(partitionTypesRawCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row PartitionType) error {
			if _, exists := partitionTypes[row.ID]; exists {
				return fmt.Errorf(
					"duplicate definition for partition type 0x%02X", row.ID)
			}
			partitionTypes[row.ID] = row
			return nil
		},
	)
	if err != nil && err != io.EOF {
		panic(err)
	}
}
