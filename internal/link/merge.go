package link

import "github.com/dbx-labs/coldld/internal/object"

// merge implements the Section Merger and Symbol Table Builder: it
// processes decoded objects in input order, appending each object's
// sections into the matching output section and inserting its defined
// symbols into the global symbol table.
func merge(ctx *Context, objects []*object.File) error {
	for _, obj := range objects {
		if err := mergeObject(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

func mergeObject(ctx *Context, obj *object.File) error {
	// Snapshot every existing output section's current size before this
	// object contributes anything, so every section this object touches
	// rebases against the same origin.
	baseOffsets := make(map[string]uint64, len(ctx.Sections))
	for name, s := range ctx.Sections {
		baseOffsets[name] = uint64(len(s.Content))
	}

	for _, sec := range obj.Sections {
		out := ctx.Sections[sec.Name]
		if out == nil {
			out = &OutputSection{Name: sec.Name}
			ctx.Sections[sec.Name] = out
		}

		startOffset := baseOffsets[sec.Name]
		out.Content = append(out.Content, sec.Data...)
		out.IsExecutable = out.IsExecutable || sec.Executable()

		for _, r := range sec.Relocations {
			target, err := mergeRelocTarget(r, baseOffsets)
			if err != nil {
				return err
			}

			out.Relocations = append(out.Relocations, Relocation{
				Offset:   r.Offset + startOffset,
				Kind:     r.Kind,
				Encoding: r.Encoding,
				SizeBits: r.SizeBits,
				Addend:   r.Addend,
				Target:   target,
			})
		}
	}

	for _, sym := range obj.Symbols {
		if sym.Kind != object.SymbolDefined {
			continue
		}

		ctx.Symbols[sym.Name] = &Symbol{
			Name:        sym.Name,
			SectionName: sym.SectionName,
			Offset:      sym.Value + baseOffsets[sym.SectionName],
		}
	}

	return nil
}

func mergeRelocTarget(r object.Reloc, baseOffsets map[string]uint64) (RelocTarget, error) {
	switch r.TargetKind {
	case object.TargetSection:
		return RelocTarget{
			Kind:        SectionRef,
			Name:        r.SectionName,
			ExtraOffset: baseOffsets[r.SectionName],
		}, nil
	case object.TargetSymbol:
		return RelocTarget{Kind: SymbolRef, Name: r.SymbolName}, nil
	default:
		return RelocTarget{}, newError(UnsupportedFeature, errUnknownRelocTarget)
	}
}
