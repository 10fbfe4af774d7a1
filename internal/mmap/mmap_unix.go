//go:build !windows

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func munmap(data []byte) error {
	return unix.Munmap(data)
}

// The mapping is shared and read-only: the page cache is reused across
// processes mapping the same artifact, and a write through the slice faults.
func mmap(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}
