//go:build !darwin && !linux

package storage

// Unknown platforms are assumed to be local.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
