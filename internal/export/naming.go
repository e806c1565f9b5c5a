package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveCollision returns a filename under dir that does not exist at
// call time. If desired is free it is returned unchanged; otherwise a
// numeric suffix is inserted before the extension: stem_(1).ext,
// stem_(2).ext, … The counter is unbounded on purpose; an adversarially
// pre-populated directory makes this spin rather than silently cap.
func ResolveCollision(dir, desired string) string {
	if !fileExists(filepath.Join(dir, desired)) {
		return desired
	}

	stem := desired
	ext := ""
	if i := strings.LastIndexByte(desired, '.'); i > 0 {
		stem, ext = desired[:i], desired[i:]
	}

	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s_(%d)%s", stem, counter, ext)
		if !fileExists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
