package resources

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// readMmap maps file read-only. Empty files cannot be mapped, so they yield
// an empty slice and a no-op unmap.
func readMmap(file *os.File) ([]byte, func() error, error) {
	stat, statErr := file.Stat()
	if statErr != nil {
		return nil, nil, statErr
	}
	if stat.Size() == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	if mmapErr != nil {
		return nil, nil, mmapErr
	}
	return fileMmap, fileMmap.Unmap, nil
}
