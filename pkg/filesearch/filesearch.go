// Package filesearch discovers source stacks on disk and orders them the
// way the acquisition wrote them: numerically by the counters embedded in
// their file names, folder by folder, with the first file of each folder
// flagged so the driver can advance its folder cursor.
package filesearch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"stack2bin/internal/models"
)

// ListTIFFs returns the ordered source-file list under root. Files directly
// in root come first; with oneLevelDown, each immediate subfolder's files
// follow, and the first file of root and of every subfolder carries the
// folder-boundary flag.
func ListTIFFs(root string, oneLevelDown bool) ([]models.SourceFile, error) {
	var out []models.SourceFile

	addFolder := func(dir string) error {
		names, err := tiffNames(dir)
		if err != nil {
			return err
		}
		for i, name := range names {
			out = append(out, models.SourceFile{
				Path:         filepath.Join(dir, name),
				Index:        len(out),
				StartsFolder: i == 0,
			})
		}
		return nil
	}

	if err := addFolder(root); err != nil {
		return nil, err
	}
	if oneLevelDown {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %v", root, err)
		}
		var dirs []string
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
		sort.Strings(dirs)
		for _, d := range dirs {
			if err := addFolder(filepath.Join(root, d)); err != nil {
				return nil, err
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("could not find tiff files under %s", root)
	}
	return out, nil
}

// tiffNames lists the tiff files of one folder in natural order.
func tiffNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".tif", ".tiff":
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// extractNumber extracts the numeric part from a filename, so that file10
// sorts after file9 rather than after file1.
func extractNumber(name string) int {
	numStr := ""
	for _, c := range name {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// SplitByChannel separates a single-page series into the functional and
// secondary channel lists. The first channel's files carry "Ch1" in their
// names; which list is functional follows the configured functional
// channel. A recording with no secondary files is a single-channel run.
func SplitByChannel(files []models.SourceFile, functionalChan int) (primary, secondary []models.SourceFile) {
	for _, f := range files {
		isCh1 := strings.Contains(filepath.Base(f.Path), "Ch1")
		if (functionalChan == 1) == isCh1 {
			primary = append(primary, f)
		} else {
			secondary = append(secondary, f)
		}
	}
	return primary, secondary
}
