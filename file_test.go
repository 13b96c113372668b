package fatdisk

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	disktest "github.com/fatdisk/fatdisk/testing"
)

// dataFileImage fabricates a 6000-byte file DATA.BIN spanning clusters
// 3 -> 7 on a volume with 4096-byte clusters. Cluster 3 holds a rising
// pattern, cluster 7 a falling one.
func dataFileImage(t *testing.T) *disktest.Image {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	img.SetFAT(3, 7)
	img.SetFAT(7, 0x0FFFFFF8)
	img.FillCluster(3, func(i uint32) byte { return byte(i) })
	img.FillCluster(7, func(i uint32) byte { return byte(0xFF - i) })
	img.WriteDirent(t, img.Opts.RootCluster, 0,
		disktest.ShortEntry(t, "DATA    BIN", AttrArchive, 3, 6000))
	return img
}

func TestFileReadCrossesClusterBoundary(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)
	defer file.Close()

	assert.EqualValues(t, 6000, file.Size())

	buf := make([]byte, 6000)
	n, err := file.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 6000, n)

	// Offsets 0..4095 come from cluster 3, 4096..5999 from cluster 7's first
	// two sectors.
	for i := 0; i < 4096; i++ {
		require.Equalf(t, byte(i), buf[i], "offset %d", i)
	}
	for i := 4096; i < 6000; i++ {
		require.Equalf(t, byte(0xFF-(i-4096)), buf[i], "offset %d", i)
	}

	_, err = file.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestFileReadStopsAtSize(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 10000)
	n, err := file.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6000, n, "reads clamp at the recorded file size")
}

func TestFileReadIsIdempotentPerOffset(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))

	read := func() []byte {
		file, err := registry.OpenFile("C:/data.bin")
		require.NoError(t, err)
		defer file.Close()
		_, err = file.Seek(1000, io.SeekStart)
		require.NoError(t, err)
		buf := make([]byte, 4000)
		n, err := file.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 4000, n)
		return buf
	}
	assert.Equal(t, read(), read())
}

func TestSeekReadEquivalence(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)
	defer file.Close()

	whole := make([]byte, 6000)
	_, err = io.ReadFull(file, whole)
	require.NoError(t, err)

	for _, k := range []int64{0, 1, 511, 512, 4095, 4096, 5000} {
		pos, err := file.Seek(k, io.SeekStart)
		require.NoError(t, err)
		require.Equal(t, k, pos)

		n := int64(700)
		if k+n > 6000 {
			n = 6000 - k
		}
		buf := make([]byte, n)
		_, err = io.ReadFull(file, buf)
		require.NoError(t, err)
		assert.Equalf(t, whole[k:k+n], buf, "slice [%d, %d)", k, k+n)
	}
}

func TestSeekWhenceAndBounds(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)
	defer file.Close()

	pos, err := file.Seek(-100, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 5900, pos)

	pos, err = file.Seek(50, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5950, pos)

	// Seeking to the exact end is legal; the next read reports EOF.
	pos, err = file.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 6000, pos)
	_, err = file.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	_, err = file.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = file.Seek(6001, io.SeekStart)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileReadTruncatedChain(t *testing.T) {
	// The directory claims 6000 bytes but the chain ends after one cluster.
	img := dataFileImage(t)
	img.SetFAT(3, 0x0FFFFFF8)

	registry, _ := mountTestImage(t, img)
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 6000)
	n, err := file.Read(buf)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, 4096, n, "bytes before the break are still delivered")
}

func TestOpenFileOnDirectoryFails(t *testing.T) {
	registry, _ := mountTestImage(t, rootWithTree(t))

	_, err := registry.OpenFile("C:/logs")
	assert.ErrorIs(t, err, ErrPath)
	_, err = registry.OpenFile("C:/")
	assert.ErrorIs(t, err, ErrPath)
}

func TestEmptyFile(t *testing.T) {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	img.WriteDirent(t, img.Opts.RootCluster, 0,
		disktest.ShortEntry(t, "EMPTY   TXT", AttrArchive, 0, 0))

	registry, _ := mountTestImage(t, img)
	file, err := registry.OpenFile("C:/empty.txt")
	require.NoError(t, err)
	defer file.Close()

	_, err = file.Read(make([]byte, 16))
	assert.Equal(t, io.EOF, err)

	pos, err := file.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
}

func TestFileCloseReleasesHandle(t *testing.T) {
	registry, _ := mountTestImage(t, dataFileImage(t))
	file, err := registry.OpenFile("C:/data.bin")
	require.NoError(t, err)

	require.NoError(t, file.Close())
	_, err = file.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = file.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, file.Close(), ErrClosed)
}

func TestOpenFileThroughLongName(t *testing.T) {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	anchor := disktest.ShortEntry(t, "HELLO~1 TXT", AttrArchive, 3, 5)
	slot := 0
	for _, e := range disktest.LongNameChain(t, "Hello World.txt", anchor) {
		img.WriteDirent(t, img.Opts.RootCluster, slot, e)
		slot++
	}
	img.WriteDirent(t, img.Opts.RootCluster, slot, anchor)
	img.SetFAT(3, 0x0FFFFFFF)
	img.FillCluster(3, func(i uint32) byte { return "hello"[i%5] })

	registry, _ := mountTestImage(t, img)
	file, err := registry.OpenFile("C:/Hello World.txt")
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(file, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}
