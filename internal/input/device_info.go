package input

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsRoot is overridden in tests
var sysfsRoot = "/sys/class/input"

// describeNode builds a Descriptor for an event node from sysfs
func describeNode(path string) (Descriptor, error) {
	eventName := filepath.Base(path)
	sysPath := filepath.Join(sysfsRoot, eventName, "device")

	name, err := readSysfs(sysPath, "name")
	if err != nil {
		return Descriptor{}, fmt.Errorf("read sysfs name for %s: %w", path, err)
	}

	desc := Descriptor{Path: path, Name: name}
	desc.Phys, _ = readSysfs(sysPath, "phys")
	desc.Uniq, _ = readSysfs(sysPath, "uniq")
	desc.Bustype = readSysfsHex(sysPath, "id/bustype")
	desc.Vendor = readSysfsHex(sysPath, "id/vendor")
	desc.Product = readSysfsHex(sysPath, "id/product")
	desc.Version = readSysfsHex(sysPath, "id/version")
	return desc, nil
}

func readSysfs(dir, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsHex(dir, file string) uint16 {
	s, err := readSysfs(dir, file)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// PersistentPath returns the /dev/input/by-id or by-path symlink that points
// at an event node, or "" if there is none.
func PersistentPath(eventPath string) string {
	eventName := filepath.Base(eventPath)
	dir := filepath.Dir(eventPath)

	for _, sub := range []string{"by-id", "by-path"} {
		linkDir := filepath.Join(dir, sub)
		entries, err := os.ReadDir(linkDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.Contains(entry.Name(), "event") {
				continue
			}
			link := filepath.Join(linkDir, entry.Name())
			if target, err := os.Readlink(link); err == nil && filepath.Base(target) == eventName {
				return link
			}
		}
	}
	return ""
}
