// Package link implements the core linking pipeline: loading inputs,
// merging their sections, resolving symbols, laying out the output
// image, and patching relocations. It stops short of emitting bytes;
// internal/elfimage consumes the finished Context to write the
// executable.
package link

import (
	"errors"
	"fmt"

	"github.com/dbx-labs/coldld/internal/object"
)

// Link runs the full A-through-F pipeline over entries (already
// resolved: no LibraryEntry may remain) and returns the populated
// Context, laid out and relocated, ready for internal/elfimage to
// serialize.
func Link(entries []Entry) (*Context, error) {
	files, err := load(entries)
	if err != nil {
		return nil, err
	}

	objects := make([]*object.File, 0, len(files))
	for _, f := range files {
		obj, err := object.Parse(f.Content)
		if err != nil {
			kind := FormatError
			if errors.Is(err, object.ErrUnsupportedRelocation) {
				kind = UnsupportedFeature
			}
			return nil, newError(kind, fmt.Errorf("parsing %q: %w", f.Name, err))
		}
		objects = append(objects, obj)
	}

	ctx := NewContext()

	if err := merge(ctx, objects); err != nil {
		return nil, err
	}

	if err := layout(ctx); err != nil {
		return nil, err
	}

	if err := applyRelocations(ctx); err != nil {
		return nil, err
	}

	return ctx, nil
}
