package link

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// archiveMagic is the fixed 8-byte magic that opens every System V / GNU
// ar archive.
var archiveMagic = []byte("!<arch>\n")

// loadedFile is the in-memory form of an Entry once its bytes have been
// read: the InputFile of spec.md §3, minus the fields load doesn't need
// to carry forward (as_needed only matters to resolution, already spent
// by the time the core sees a FileEntry).
type loadedFile struct {
	Name    string
	Content []byte
}

// load reads every FileEntry in entries into memory, skipping archive
// members with a warning and passing StartGroup/EndGroup through as
// warnings with no other effect. A LibraryEntry surviving to this point
// is an InternalInvariant error: resolution should have turned it into a
// FileEntry already.
func load(entries []Entry) ([]loadedFile, error) {
	var files []loadedFile

	for _, e := range entries {
		switch v := e.(type) {
		case FileEntry:
			lf, err := loadFile(v)
			if err != nil {
				return nil, err
			}
			if lf == nil {
				continue
			}
			files = append(files, *lf)
		case LibraryEntry:
			return nil, newError(InternalInvariant, fmt.Errorf("%w: -l%s", errLibraryNotResolved, v.Name))
		case StartGroupEntry:
			slog.Warn("ignoring --start-group: archive group iteration is not supported")
		case EndGroupEntry:
			slog.Warn("ignoring --end-group: archive group iteration is not supported")
		default:
			return nil, newErrorf(InternalInvariant, "unrecognized entry type %T", e)
		}
	}

	return files, nil
}

func loadFile(e FileEntry) (*loadedFile, error) {
	content, err := os.ReadFile(e.Name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newErrorf(IOFailure, "input file %q not found", e.Name)
		}
		return nil, newError(IOFailure, fmt.Errorf("reading %q: %w", e.Name, err))
	}

	if strings.HasSuffix(e.Name, ".a") {
		if !bytes.HasPrefix(content, archiveMagic) {
			return nil, newErrorf(FormatError, "%q has .a suffix but is not a valid archive", e.Name)
		}
		slog.Warn("skipping archive input", "file", e.Name)
		return nil, nil
	}

	return &loadedFile{Name: e.Name, Content: content}, nil
}
