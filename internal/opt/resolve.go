package opt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dbx-labs/coldld/internal/link"
)

// Resolve turns every LibraryEntry in o.Entries into a FileEntry by
// searching o.SearchDir, mirroring ld's own namespec rules: prefer
// lib<name>.so unless -static was in effect for that entry, falling
// back to lib<name>.a. An entry that resolves to neither is fatal. The
// result is safe to hand directly to link.Link: no LibraryEntry
// survives.
func Resolve(o *Opt) ([]link.Entry, error) {
	resolved := make([]link.Entry, 0, len(o.Entries))

	for _, e := range o.Entries {
		lib, ok := e.(link.LibraryEntry)
		if !ok {
			resolved = append(resolved, e)
			continue
		}

		path, err := resolveLibrary(lib, o.SearchDir)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, link.FileEntry{Name: path, AsNeeded: lib.AsNeeded})
	}

	return resolved, nil
}

func resolveLibrary(lib link.LibraryEntry, searchDirs []string) (string, error) {
	if !lib.LinkStatic {
		if path, ok := lookupFile(fmt.Sprintf("lib%s.so", lib.Name), searchDirs); ok {
			return path, nil
		}
	}

	if path, ok := lookupFile(fmt.Sprintf("lib%s.a", lib.Name), searchDirs); ok {
		return path, nil
	}

	return "", fmt.Errorf("cannot find library for -l%s in search path %v", lib.Name, searchDirs)
}

func lookupFile(name string, searchDirs []string) (string, bool) {
	for _, dir := range searchDirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}
