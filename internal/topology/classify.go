package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"foldhost/internal/models"
)

// ComposeFiles are the descriptor names that mark a folder as containerized.
var ComposeFiles = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Classify walks the top level of root and returns one record per
// non-reserved directory, sorted byte-wise by name. Dot directories are
// always reserved. Files at the top level are ignored.
func Classify(root string, reserved []string) ([]models.AppRecord, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read source root %s: %w", root, err)
	}

	skip := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		skip[name] = struct{}{}
	}

	apps := make([]models.AppRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := skip[name]; ok {
			continue
		}

		dir := filepath.Join(root, name)
		if !isDir(entry, dir) {
			continue
		}

		kind := models.KindStatic
		if hasComposeFile(dir) {
			kind = models.KindContainerized
		}
		apps = append(apps, models.AppRecord{Name: name, Kind: kind})
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

func isDir(entry os.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasComposeFile(dir string) bool {
	for _, name := range ComposeFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}
