package provenance

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// desktopEntry is the subset of a freedesktop .desktop file the tracer needs.
type desktopEntry struct {
	Name string
	Icon string
	Exec string
	Path string
}

// desktopIndex maps executable basenames to desktop entries. It is built on
// first use.
type desktopIndex struct {
	dirs []string

	once    sync.Once
	entries map[string]desktopEntry
	byPath  map[string]desktopEntry
}

func newDesktopIndex(dirs []string) *desktopIndex {
	return &desktopIndex{dirs: dirs}
}

// xdgApplicationDirs returns the application directories in XDG lookup order.
func xdgApplicationDirs() []string {
	var dirs []string
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		dirs = append(dirs, filepath.Join(dataHome, "applications"))
	}
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range filepath.SplitList(dataDirs) {
		dirs = append(dirs, filepath.Join(d, "applications"))
	}
	return dirs
}

// lookup finds the entry whose Exec binary matches the executable path or name.
func (d *desktopIndex) lookup(executablePath, name string) (desktopEntry, bool) {
	d.once.Do(d.load)
	if executablePath != "" {
		if e, ok := d.entries[filepath.Base(executablePath)]; ok {
			return e, true
		}
	}
	if name != "" {
		if e, ok := d.entries[name]; ok {
			return e, true
		}
	}
	return desktopEntry{}, false
}

// entry returns the desktop entry loaded from path.
func (d *desktopIndex) entry(path string) (desktopEntry, bool) {
	d.once.Do(d.load)
	e, ok := d.byPath[path]
	return e, ok
}

func (d *desktopIndex) load() {
	d.entries = make(map[string]desktopEntry)
	d.byPath = make(map[string]desktopEntry)
	for _, dir := range d.dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.desktop"))
		for _, path := range matches {
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			entry, ok := parseDesktopEntry(f)
			f.Close()
			if !ok {
				continue
			}
			entry.Path = path
			d.byPath[path] = entry
			bin := execBinary(entry.Exec)
			if bin == "" {
				continue
			}
			// Earlier directories take precedence.
			if _, exists := d.entries[bin]; !exists {
				d.entries[bin] = entry
			}
		}
	}
}

// parseDesktopEntry reads the [Desktop Entry] group of a desktop file.
// Hidden and NoDisplay entries are not applications a user can see.
func parseDesktopEntry(r io.Reader) (desktopEntry, bool) {
	var entry desktopEntry
	inGroup := false
	hidden := false
	isApp := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inGroup = line == "[Desktop Entry]"
			continue
		}
		if !inGroup {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			entry.Name = value
		case "Icon":
			entry.Icon = value
		case "Exec":
			entry.Exec = value
		case "Type":
			isApp = value == "Application"
		case "NoDisplay", "Hidden":
			if value == "true" {
				hidden = true
			}
		}
	}
	if scanner.Err() != nil || !isApp || hidden || entry.Name == "" || entry.Exec == "" {
		return desktopEntry{}, false
	}
	return entry, true
}

// execBinary extracts the basename of the program an Exec line runs,
// skipping an env(1) prefix and its assignments.
func execBinary(exec string) string {
	fields := strings.Fields(exec)
	for i := 0; i < len(fields); i++ {
		f := strings.Trim(fields[i], `"'`)
		if i == 0 && filepath.Base(f) == "env" {
			for i+1 < len(fields) && strings.Contains(fields[i+1], "=") {
				i++
			}
			continue
		}
		return filepath.Base(f)
	}
	return ""
}
