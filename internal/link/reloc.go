package link

import (
	"encoding/binary"
	"log/slog"

	"github.com/dbx-labs/coldld/internal/object"
)

// applyRelocations implements the Relocation Engine: for every output
// section, it resolves each relocation's target virtual address and
// patches the computed value into the section's content in place.
func applyRelocations(ctx *Context) error {
	for _, name := range ctx.Layout.SectionOrder {
		s := ctx.Sections[name]
		for _, r := range s.Relocations {
			if err := applyRelocation(ctx, s, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyRelocation(ctx *Context, s *OutputSection, r Relocation) error {
	target, err := resolveRelocTarget(ctx, r.Target)
	if err != nil {
		return err
	}

	var value int64
	switch {
	case r.Kind == object.RelocAbsolute && r.Encoding == object.EncodingSignedDisplacement && r.SizeBits == 32:
		value = int64(target) + r.Addend
	case r.Kind == object.RelocPLT && r.Encoding == object.EncodingGeneric && r.SizeBits == 32:
		p := int64(LoadBase + s.FileOffset + r.Offset)
		value = int64(target) + r.Addend - p
	default:
		return newError(UnsupportedFeature, errUnknownRelocKind)
	}

	if r.Offset+4 > uint64(len(s.Content)) {
		return newErrorf(FormatError, "relocation at %s+0x%x overruns section content (len=%d)", s.Name, r.Offset, len(s.Content))
	}

	binary.LittleEndian.PutUint32(s.Content[r.Offset:r.Offset+4], uint32(int32(value)))

	slog.Debug("patched relocation",
		"section", s.Name, "offset", r.Offset, "target", target, "addend", r.Addend, "value", value)

	return nil
}

func resolveRelocTarget(ctx *Context, t RelocTarget) (uint64, error) {
	switch t.Kind {
	case SectionRef:
		sec, ok := ctx.Sections[t.Name]
		if !ok {
			return 0, newErrorf(ResolutionError, "relocation targets nonexistent section %q", t.Name)
		}
		return sec.VirtualAddress + t.ExtraOffset, nil
	case SymbolRef:
		sym, ok := ctx.Symbols[t.Name]
		if !ok {
			return 0, newError(ResolutionError, errUnresolvedSymbol)
		}
		sec, ok := ctx.Sections[sym.SectionName]
		if !ok {
			return 0, newErrorf(ResolutionError, "symbol %q names nonexistent section %q", t.Name, sym.SectionName)
		}
		return sec.VirtualAddress + sym.Offset, nil
	default:
		return 0, newError(UnsupportedFeature, errUnknownRelocTarget)
	}
}
