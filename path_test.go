package fatdisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	disktest "github.com/fatdisk/fatdisk/testing"
)

func TestSplitPath(t *testing.T) {
	letter, fragments, err := splitPath("C:/boot/config.txt")
	require.NoError(t, err)
	assert.Equal(t, byte('C'), letter)
	assert.Equal(t, []string{"boot", "config.txt"}, fragments)

	letter, fragments, err = splitPath("d:/")
	require.NoError(t, err)
	assert.Equal(t, byte('D'), letter)
	assert.Empty(t, fragments)

	_, fragments, err = splitPath("C:/logs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, fragments)

	for _, bad := range []string{"", "C:", "C:boot", "/boot", "C//boot", "1:/x"} {
		_, _, err := splitPath(bad)
		assert.ErrorIsf(t, err, ErrPath, "path %q", bad)
	}
}

// rootWithTree fabricates a root with a subdirectory "logs" (cluster 4)
// holding "boot.txt" (cluster 5, 100 bytes), plus "readme.txt" in the root.
func rootWithTree(t *testing.T) *disktest.Image {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	img.SetFAT(4, 0x0FFFFFFF)
	img.SetFAT(5, 0x0FFFFFFF)

	img.WriteDirent(t, img.Opts.RootCluster, 0,
		disktest.ShortEntry(t, "README  TXT", AttrArchive, 3, 42))
	img.WriteDirent(t, img.Opts.RootCluster, 1,
		disktest.ShortEntry(t, "LOGS       ", AttrDirectory, 4, 0))
	img.WriteDirent(t, 4, 0,
		disktest.ShortEntry(t, "BOOT    TXT", AttrArchive, 5, 100))
	return img
}

func TestResolveDescendsDirectories(t *testing.T) {
	registry, _ := mountTestImage(t, rootWithTree(t))

	vol, info, err := registry.resolve("C:/logs/boot.txt")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, byte('C'), vol.Letter())
	assert.Equal(t, ClusterID(5), info.FirstCluster())
	assert.EqualValues(t, 100, info.Size())

	_, info, err = registry.resolve("C:/")
	require.NoError(t, err)
	assert.Nil(t, info, "the root has no entry of its own")
}

func TestResolveFailures(t *testing.T) {
	registry, _ := mountTestImage(t, rootWithTree(t))

	_, _, err := registry.resolve("Q:/anything")
	assert.ErrorIs(t, err, ErrNoVolume)

	_, _, err = registry.resolve("C:/missing.txt")
	assert.ErrorIs(t, err, ErrPath)

	_, _, err = registry.resolve("C:/readme.txt/deeper")
	assert.ErrorIs(t, err, ErrPath, "a file can't be descended into")

	_, _, err = registry.resolve("C:bad")
	assert.ErrorIs(t, err, ErrPath)
}

func TestSearchDirMatchesShortNamesCaseInsensitively(t *testing.T) {
	_, vol := mountTestImage(t, rootWithTree(t))

	info, err := vol.searchDir(vol.rootCluster, "ReAdMe.TxT")
	require.NoError(t, err)
	assert.Equal(t, ClusterID(3), info.FirstCluster())
}

func TestSearchDirMatchesLongNames(t *testing.T) {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	anchor := disktest.ShortEntry(t, "HELLO~1 TXT", AttrArchive, 6, 10)
	chain := disktest.LongNameChain(t, "Hello World.txt", anchor)
	slot := 0
	for _, e := range chain {
		img.WriteDirent(t, img.Opts.RootCluster, slot, e)
		slot++
	}
	img.WriteDirent(t, img.Opts.RootCluster, slot, anchor)
	img.SetFAT(6, 0x0FFFFFFF)

	_, vol := mountTestImage(t, img)

	info, err := vol.searchDir(vol.rootCluster, "Hello World.txt")
	require.NoError(t, err)
	assert.Equal(t, ClusterID(6), info.FirstCluster())

	// An anchor bound to a chain is reachable through its long name only:
	// the chain swallows the short-name comparison.
	_, err = vol.searchDir(vol.rootCluster, "hello~1.txt")
	assert.ErrorIs(t, err, ErrPath)

	_, err = vol.searchDir(vol.rootCluster, "Hello World.txd")
	assert.ErrorIs(t, err, ErrPath)
}

func TestSearchDirSkipsChainWithBadChecksum(t *testing.T) {
	// A long-name chain whose checksum doesn't bind to the anchor must be
	// ignored during lookup: the entry misses, but scanning continues and
	// later entries still match.
	img := disktest.NewImage(t, disktest.DefaultOptions())
	anchor := disktest.ShortEntry(t, "HELLO~1 TXT", AttrArchive, 6, 10)
	chain := disktest.LongNameChain(t, "Hello World.txt", anchor)
	for i := range chain {
		chain[i][13] ^= 0x01
	}
	slot := 0
	for _, e := range chain {
		img.WriteDirent(t, img.Opts.RootCluster, slot, e)
		slot++
	}
	img.WriteDirent(t, img.Opts.RootCluster, slot, anchor)
	img.WriteDirent(t, img.Opts.RootCluster, slot+1,
		disktest.ShortEntry(t, "AFTER   TXT", AttrArchive, 7, 5))
	img.SetFAT(6, 0x0FFFFFFF)
	img.SetFAT(7, 0x0FFFFFFF)

	_, vol := mountTestImage(t, img)

	_, err := vol.searchDir(vol.rootCluster, "Hello World.txt")
	assert.ErrorIs(t, err, ErrPath, "an unbound chain must not match")

	info, err := vol.searchDir(vol.rootCluster, "after.txt")
	require.NoError(t, err)
	assert.Equal(t, ClusterID(7), info.FirstCluster())
}

func TestSearchDirIgnoresDeletedEntries(t *testing.T) {
	img := disktest.NewImage(t, disktest.DefaultOptions())
	deleted := disktest.ShortEntry(t, "README  TXT", AttrArchive, 3, 42)
	deleted[0] = 0xE5
	img.WriteDirent(t, img.Opts.RootCluster, 0, deleted)
	img.WriteDirent(t, img.Opts.RootCluster, 1,
		disktest.ShortEntry(t, "OTHER   TXT", AttrArchive, 4, 7))
	img.SetFAT(4, 0x0FFFFFFF)

	_, vol := mountTestImage(t, img)

	// The first entry is a tombstone (its name begins with 0xE5); the search
	// steps over it and matches the second entry.
	info, err := vol.searchDir(vol.rootCluster, "other.txt")
	require.NoError(t, err)
	assert.Equal(t, ClusterID(4), info.FirstCluster())
}
