package plugin

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// InterfaceName is the prefix of the interface id plugins declare.
	InterfaceName = "org.quern.plugininterface"
	// InterfaceMajor must match exactly; InterfaceMinor is the newest minor
	// this build understands.
	InterfaceMajor = 1
	InterfaceMinor = 0
)

var (
	idPattern        = regexp.MustCompile(`^[a-z0-9_]+$`)
	versionPattern   = regexp.MustCompile(`^\d+\.\d+$`)
	interfacePattern = regexp.MustCompile(`^` + regexp.QuoteMeta(InterfaceName) + `/(\d+)\.(\d+)$`)
)

// LoadType controls who decides whether a plugin is loaded.
type LoadType int

const (
	// LoadUser plugins follow the persisted enablement preference.
	LoadUser LoadType = iota
	// LoadFrontend plugins are loaded by frontend selection only.
	LoadFrontend
	// LoadOnDemand plugins are loaded explicitly by other components.
	LoadOnDemand
)

// String returns a string representation of the load type.
func (t LoadType) String() string {
	switch t {
	case LoadUser:
		return "user"
	case LoadFrontend:
		return "frontend"
	case LoadOnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

func parseLoadType(s string) (LoadType, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "user":
		return LoadUser, true
	case "frontend":
		return LoadFrontend, true
	case "on_demand", "ondemand":
		return LoadOnDemand, true
	default:
		return LoadUser, false
	}
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Version            string   `yaml:"version"`
	Interface          string   `yaml:"interface"`
	Description        string   `yaml:"description,omitempty"`
	License            string   `yaml:"license,omitempty"`
	URL                string   `yaml:"url,omitempty"`
	Authors            []string `yaml:"authors,omitempty"`
	LoadType           string   `yaml:"load_type,omitempty"`
	EnabledByDefault   bool     `yaml:"enabled_by_default,omitempty"`
	PluginDependencies []string `yaml:"plugin_dependencies,omitempty"`
	BinaryDependencies []string `yaml:"binary_dependencies,omitempty"`
}

// validateManifest checks the static metadata rules. A failure makes the
// plugin Invalid for the lifetime of the process.
func validateManifest(m *Manifest) error {
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("invalid id %q (allowed: [a-z0-9_])", m.ID)
	}
	if !versionPattern.MatchString(m.Version) {
		return fmt.Errorf("invalid version %q (expected <major>.<minor>)", m.Version)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}

	match := interfacePattern.FindStringSubmatch(m.Interface)
	if match == nil {
		return fmt.Errorf("invalid interface id %q (expected %s/<major>.<minor>)", m.Interface, InterfaceName)
	}
	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	if major != InterfaceMajor || minor > InterfaceMinor {
		return fmt.Errorf("incompatible interface version %d.%d (supported: %d.%d)", major, minor, InterfaceMajor, InterfaceMinor)
	}
	return nil
}

// Checksum returns the blake3 fingerprint of manifest bytes.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
