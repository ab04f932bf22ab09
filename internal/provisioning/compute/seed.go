package compute

import (
	"fmt"
	"os"
	"sort"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"
)

// SeedLabel is the volume label cloud-init's NoCloud source looks for.
const SeedLabel = "cidata"

// seedSlack leaves room for the ISO9660 descriptors and directory records.
const seedSlack = 1 << 20

// BuildSeedImage writes an ISO9660 image labelled cidata holding files at
// its root and returns the image size in bytes. path must not exist.
func BuildSeedImage(path string, files map[string][]byte) (int64, error) {
	size := int64(seedSlack)
	for _, data := range files {
		size += int64(len(data))
	}
	size = (size + 2047) / 2048 * 2048

	img, err := diskfs.Create(path, size, diskfs.SectorSizeDefault)
	if err != nil {
		return 0, fmt.Errorf("failed to create seed image %s: %w", path, err)
	}
	defer func() { _ = img.Close() }()

	// ISO9660 only allows 2048, 4096 or 8192 byte logical blocks.
	img.LogicalBlocksize = 2048
	fs, err := img.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeISO9660,
		VolumeLabel: SeedLabel,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create seed filesystem: %w", err)
	}
	// Close drops the staging workspace.
	defer func() { _ = fs.Close() }()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := fs.OpenFile("/"+name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return 0, fmt.Errorf("failed to add %s to seed image: %w", name, err)
		}
		_, err = f.Write(files[name])
		_ = f.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to write %s to seed image: %w", name, err)
		}
	}

	iso, ok := fs.(*iso9660.FileSystem)
	if !ok {
		return 0, fmt.Errorf("seed filesystem is not iso9660")
	}

	// Rock Ridge keeps the lower case, dashed file names NoCloud needs.
	if err := iso.Finalize(iso9660.FinalizeOptions{RockRidge: true, VolumeIdentifier: SeedLabel}); err != nil {
		return 0, fmt.Errorf("failed to finalize seed image: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat seed image: %w", err)
	}
	return st.Size(), nil
}
