package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for state files on a network mount,
// where neither SQLite locking nor flock(2) can be trusted.
var ErrNetworkFilesystem = errors.New("network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"nfs4":   {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// RequireLocal fails when path, or its nearest existing parent, lives on
// a network filesystem. what names the file in the error.
func RequireLocal(path, what string) error {
	return requireLocal(path, what, filesystemType)
}

func requireLocal(path, what string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", what)
	}

	existing, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve %s path %q: %w", what, path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if IsNetworkFilesystem(fsType) {
		return fmt.Errorf("%s %q is on %w %q; point state.path (or QUERN_DB) at local disk",
			what, path, ErrNetworkFilesystem, fsType)
	}
	return nil
}

// nearestExisting walks up from path until it finds an entry that exists.
func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}

// IsNetworkFilesystem reports whether fsType names a network mount.
func IsNetworkFilesystem(fsType string) bool {
	_, ok := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
