//go:build linux

package leakrun

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openPayload creates a memfd named after the payload digest, which shows up
// under /proc/<pid>/fd as well as in the scanner's argv[0]. When
// memfd_create(2) fails the payload goes to a temporary file instead.
func openPayload(p *payload) error {
	fd, err := unix.MemfdCreate(p.sha256hex, 0)
	if err != nil {
		return p.writeTemporaryFile()
	}
	p.name = fmt.Sprintf("/proc/self/fd/%d", fd)
	p.file = os.NewFile(uintptr(fd), p.name)
	if _, err := p.file.Write(p.data); err != nil {
		if cerr := p.Close(); cerr != nil {
			return fmt.Errorf("unable to write payload: %w; unable to close memfd: %w", err, cerr)
		}
		return fmt.Errorf("unable to write payload: %w", err)
	}
	return nil
}
