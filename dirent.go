package fatdisk

import (
	"bytes"
	"encoding/binary"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// Directory entry attribute flags.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20

	// attrLongName is the attribute pattern of a long-file-name entry. Note
	// that it includes the volume-label bit, which is why label detection
	// must exclude entries matching this mask.
	attrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
	attrMask     = 0x3F
)

// Short (8.3) directory entry layout.
const (
	direntNameOff          = 0
	direntAttrOff          = 11
	direntNTResOff         = 12
	direntCreatedTenthsOff = 13
	direntCreatedTimeOff   = 14
	direntCreatedDateOff   = 16
	direntAccessDateOff    = 18
	direntClusterHighOff   = 20
	direntWriteTimeOff     = 22
	direntWriteDateOff     = 24
	direntClusterLowOff    = 26
	direntSizeOff          = 28
)

// Long-file-name entry layout. The sequence byte's low five bits are a
// 1-based fragment index; the 0x40 bit marks the chain's last (highest)
// fragment, which physically precedes the anchor entry on disk.
const (
	lfnSeqOff        = 0
	lfnChecksumOff   = 13
	lfnSeqIndexMask  = 0x1F
	lfnSeqLastFlag   = 0x40
	lfnUnitsPerEntry = 13
)

// lfnNameOffsets are the byte offsets of the 13 UCS-2 code units carried by
// one long-name entry.
var lfnNameOffsets = [lfnUnitsPerEntry]byte{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// First-byte markers.
const (
	direntFree          = 0x00
	direntDeletedEscape = 0x05
	direntDeleted       = 0xE5
)

// NameMax is the longest file name the driver assembles, in UCS-2 code units.
const NameMax = 255

// ShortNameChecksum computes the checksum binding a long-name chain to its
// 11-byte short-name anchor.
func ShortNameChecksum(sfn []byte) byte {
	var sum byte
	for i := 0; i < 11; i++ {
		sum = ((sum & 1) << 7) + (sum >> 1) + sfn[i]
	}
	return sum
}

// Info is one decoded directory entry.
type Info struct {
	name      [NameMax + 1]uint16
	nameLen   int
	shortName [11]byte

	attr          byte
	createdTenths byte
	createdTime   uint16
	createdDate   uint16
	accessDate    uint16
	writeTime     uint16
	writeDate     uint16

	size         uint32
	firstCluster ClusterID
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Name returns the entry's name. When the entry carried a long-name chain
// this is the assembled long name; otherwise it is the raw space-padded 8.3
// name, exactly as stored.
func (info *Info) Name() string {
	raw := make([]byte, 0, info.nameLen*2)
	for _, unit := range info.name[:info.nameLen] {
		raw = append(raw, byte(unit), byte(unit>>8))
	}
	decoded, err := utf16Decoder.NewDecoder().Bytes(raw)
	if err != nil {
		// Unpaired surrogate or similar damage; fall back to the short name.
		return string(bytes.TrimRight(info.shortName[:], " "))
	}
	return string(decoded)
}

// NameLength returns the name's length in UCS-2 code units.
func (info *Info) NameLength() int { return info.nameLen }

// ShortName returns the raw 11-byte 8.3 name.
func (info *Info) ShortName() [11]byte { return info.shortName }

// Attr returns the raw attribute byte.
func (info *Info) Attr() byte { return info.attr }

// Size returns the file size in bytes. Directories report zero.
func (info *Info) Size() uint32 { return info.size }

// FirstCluster returns the first cluster of the entry's own chain.
func (info *Info) FirstCluster() ClusterID { return info.firstCluster }

func (info *Info) IsDir() bool { return info.attr&AttrDirectory != 0 }

// ModTime returns the last-write timestamp.
func (info *Info) ModTime() time.Time {
	return fatTimestamp(info.writeDate, info.writeTime, 0)
}

// CreateTime returns the creation timestamp, including the tenths-of-second
// refinement.
func (info *Info) CreateTime() time.Time {
	return fatTimestamp(info.createdDate, info.createdTime, info.createdTenths)
}

// AccessTime returns the last-access date. FAT stores no time of day for it.
func (info *Info) AccessTime() time.Time {
	return fatTimestamp(info.accessDate, 0, 0)
}

// fatTimestamp converts FAT's packed date/time fields. The date counts years
// from 1980; tenths refines the 2-second time granularity.
func fatTimestamp(date, clock uint16, tenths byte) time.Time {
	if date == 0 {
		return time.Time{}
	}
	day := int(date & 0x1F)
	month := time.Month((date >> 5) & 0x0F)
	year := 1980 + int(date>>9)

	seconds := int(clock&0x1F) * 2
	minutes := int((clock >> 5) & 0x3F)
	hours := int(clock >> 11)

	seconds += int(tenths) / 100
	nanoseconds := (int(tenths) % 100) * 10_000_000

	return time.Date(year, month, day, hours, minutes, seconds, nanoseconds, time.UTC)
}

// fillFromShortEntry populates the anchor-derived fields of an Info from a
// raw 32-byte short entry. When no long-name chain preceded the anchor, the
// name becomes the raw 11 short-name bytes.
func (info *Info) fillFromShortEntry(entry []byte, haveLongName bool) {
	copy(info.shortName[:], entry[direntNameOff:direntNameOff+11])
	info.attr = entry[direntAttrOff]
	info.createdTenths = entry[direntCreatedTenthsOff]
	info.createdTime = binary.LittleEndian.Uint16(entry[direntCreatedTimeOff:])
	info.createdDate = binary.LittleEndian.Uint16(entry[direntCreatedDateOff:])
	info.accessDate = binary.LittleEndian.Uint16(entry[direntAccessDateOff:])
	info.writeTime = binary.LittleEndian.Uint16(entry[direntWriteTimeOff:])
	info.writeDate = binary.LittleEndian.Uint16(entry[direntWriteDateOff:])
	info.size = binary.LittleEndian.Uint32(entry[direntSizeOff:])

	high := uint32(binary.LittleEndian.Uint16(entry[direntClusterHighOff:]))
	low := uint32(binary.LittleEndian.Uint16(entry[direntClusterLowOff:]))
	info.firstCluster = ClusterID(high<<16 | low)

	if !haveLongName {
		for i := 0; i < 11; i++ {
			info.name[i] = uint16(info.shortName[i])
		}
		info.nameLen = 11
	}
}

// accumulateLongName copies one long-name fragment's code units into the Info
// at their computed offsets. Unused slots are 0x0000 (terminator) then 0xFFFF
// (padding); neither counts toward the name length.
func (info *Info) accumulateLongName(entry []byte) {
	index := int(entry[lfnSeqOff] & lfnSeqIndexMask)
	if index == 0 {
		return
	}
	base := lfnUnitsPerEntry * (index - 1)
	for s, off := range lfnNameOffsets {
		unit := binary.LittleEndian.Uint16(entry[off:])
		if unit == 0x0000 || unit == 0xFFFF {
			break
		}
		pos := base + s
		if pos > NameMax {
			break
		}
		info.name[pos] = unit
		info.nameLen++
	}
}

// longNameFragmentMatches compares the query against one long-name fragment
// at the fragment's computed offset. Comparison stops at the first terminator
// or padding slot; at a terminator the query must be exhausted too.
func longNameFragmentMatches(entry []byte, query []byte) bool {
	index := int(entry[lfnSeqOff] & lfnSeqIndexMask)
	if index == 0 {
		return false
	}
	base := lfnUnitsPerEntry * (index - 1)
	for s, off := range lfnNameOffsets {
		unit := binary.LittleEndian.Uint16(entry[off:])
		if unit == 0xFFFF {
			return true
		}
		pos := base + s
		if unit == 0x0000 {
			return pos == len(query)
		}
		if pos >= len(query) || unit != uint16(query[pos]) {
			return false
		}
	}
	return true
}

// shortNameMatches compares a path fragment against an 11-byte short name.
// ASCII letters in the fragment are upper-cased; the fragment's final dot
// splits the 8-byte body from the 3-byte extension, both space-padded on
// disk.
func shortNameMatches(sfn []byte, query []byte) bool {
	body := query
	var ext []byte
	if i := bytes.LastIndexByte(query, '.'); i >= 0 {
		body, ext = query[:i], query[i+1:]
	}
	if len(body) > 8 || len(ext) > 3 {
		return false
	}
	for i := 0; i < 8; i++ {
		want := byte(' ')
		if i < len(body) {
			want = upperASCII(body[i])
		}
		if sfn[i] != want {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		want := byte(' ')
		if i < len(ext) {
			want = upperASCII(ext[i])
		}
		if sfn[8+i] != want {
			return false
		}
	}
	return true
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 0x20
	}
	return c
}
