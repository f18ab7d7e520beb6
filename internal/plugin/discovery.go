package plugin

import (
	"os"
	"path/filepath"
	"strings"
)

// DiscoveredFile is one plugin file found on disk, parsed if enabled.
type DiscoveredFile struct {
	Path    string
	Enabled bool
}

// Discover walks dir for *.opnet and *.opnet.disabled files. Disabled
// siblings are returned unparsed, matching §4.7's "discovered but not
// parsed" contract.
func Discover(dir string) ([]DiscoveredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var found []DiscoveredFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".opnet.disabled"):
			found = append(found, DiscoveredFile{Path: filepath.Join(dir, name), Enabled: false})
		case strings.HasSuffix(name, ".opnet"):
			found = append(found, DiscoveredFile{Path: filepath.Join(dir, name), Enabled: true})
		}
	}
	return found, nil
}

// Load discovers and decodes every enabled plugin file under dir, skipping
// disabled siblings.
func Load(dir string) ([]*File, error) {
	files, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	var loaded []*File
	for _, f := range files {
		if !f.Enabled {
			continue
		}
		raw, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, err
		}
		decoded, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		decoded.Path = f.Path
		loaded = append(loaded, decoded)
	}
	return loaded, nil
}
