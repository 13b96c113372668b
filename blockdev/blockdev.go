// Package blockdev defines the contract between the FAT32 driver and the
// storage it runs on: a device that transfers whole sectors by logical block
// address. The package also provides [Image], an adapter that serves a disk
// image through that contract from any io.ReadWriteSeeker or byte slice.
package blockdev

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// Status reports the state of a block device.
type Status uint8

const (
	// StatusPresent is set when media is inserted and reachable.
	StatusPresent Status = 1 << iota
	// StatusInitialized is set once Initialize has completed successfully.
	StatusInitialized
	// StatusWriteProtected is set when the media rejects writes.
	StatusWriteProtected
)

// Device is the capability set the driver needs from storage. Buffers passed
// to ReadSectors and WriteSectors are always a whole multiple of the sector
// size.
type Device interface {
	ReadSectors(buf []byte, lba uint32, count uint) error
	WriteSectors(buf []byte, lba uint32, count uint) error
	Status() Status
	Initialize() error
	SectorSize() uint
}

// Image is a Device backed by an io.ReadWriteSeeker, typically a disk image
// file or an in-memory byte slice.
type Image struct {
	stream       io.ReadWriteSeeker
	sectorSize   uint
	totalSectors uint32
	initialized  bool
	readOnly     bool
}

// NewImage wraps a stream as a block device, inferring the sector count from
// the stream's length.
func NewImage(stream io.ReadWriteSeeker, sectorSize uint) (*Image, error) {
	if sectorSize == 0 || sectorSize&(sectorSize-1) != 0 {
		return nil, fmt.Errorf("sector size must be a power of two, got %d", sectorSize)
	}
	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &Image{
		stream:       stream,
		sectorSize:   sectorSize,
		totalSectors: uint32(uint64(end) / uint64(sectorSize)),
	}, nil
}

// FromSlice wraps a byte slice as a block device. Writes modify the slice in
// place; its length is fixed.
func FromSlice(storage []byte, sectorSize uint) *Image {
	img, _ := NewImage(bytesextra.NewReadWriteSeeker(storage), sectorSize)
	return img
}

// SetReadOnly marks the image write-protected. Subsequent writes fail.
func (img *Image) SetReadOnly(readOnly bool) {
	img.readOnly = readOnly
}

func (img *Image) SectorSize() uint {
	return img.sectorSize
}

// TotalSectors returns the number of sectors the image holds.
func (img *Image) TotalSectors() uint32 {
	return img.totalSectors
}

func (img *Image) Status() Status {
	status := StatusPresent
	if img.initialized {
		status |= StatusInitialized
	}
	if img.readOnly {
		status |= StatusWriteProtected
	}
	return status
}

// Initialize prepares the device. For images there is no hardware bring-up;
// the call only validates the stream is seekable and flags the device ready.
func (img *Image) Initialize() error {
	if _, err := img.stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	img.initialized = true
	return nil
}

func (img *Image) checkRange(buf []byte, lba uint32, count uint) error {
	if uint(len(buf)) != count*img.sectorSize {
		return fmt.Errorf(
			"buffer is %d bytes, want %d for %d sectors",
			len(buf), count*img.sectorSize, count)
	}
	if uint64(lba)+uint64(count) > uint64(img.totalSectors) {
		return fmt.Errorf(
			"sector range [%d, %d) not in [0, %d)",
			lba, uint64(lba)+uint64(count), img.totalSectors)
	}
	return nil
}

func (img *Image) ReadSectors(buf []byte, lba uint32, count uint) error {
	if err := img.checkRange(buf, lba, count); err != nil {
		return err
	}
	if _, err := img.stream.Seek(int64(lba)*int64(img.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(img.stream, buf)
	return err
}

func (img *Image) WriteSectors(buf []byte, lba uint32, count uint) error {
	if img.readOnly {
		return fmt.Errorf("device is write-protected")
	}
	if err := img.checkRange(buf, lba, count); err != nil {
		return err
	}
	if _, err := img.stream.Seek(int64(lba)*int64(img.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := img.stream.Write(buf)
	return err
}
