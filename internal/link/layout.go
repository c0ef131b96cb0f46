package link

import (
	"sort"

	"github.com/dbx-labs/coldld/internal/align"
)

// Fixed ELF64 on-disk entry sizes this layouter reserves space for, and
// that internal/elfimage packs to when it writes. These never vary for
// a 64-bit object: they are dictated by the format, not a choice of this
// linker.
const (
	ELFHeaderSize     = 64
	ProgHeaderSize    = 56
	SectionHeaderSize = 64
	SymEntrySize      = 24
)

// layout implements the Image Layouter: it assigns a stable iteration
// order to sections and symbols, reserves file-header, program-header,
// section-body, section-header, symbol-table, and string-table space in
// the fixed order spec.md §4.4 describes, and records every offset the
// relocation engine and image writer need.
func layout(ctx *Context) error {
	l := &Layout{
		SymbolStringID:      make(map[string]int),
		SectionNameStringID: make(map[string]int),
	}

	l.SectionOrder = sortedKeys(ctx.Sections)
	l.SymbolOrder = sortedKeys(ctx.Symbols)

	// 1 + 2: file header, one program header.
	offset := uint64(ELFHeaderSize + ProgHeaderSize)

	// 3: each output section, page-aligned.
	for _, name := range l.SectionOrder {
		s := ctx.Sections[name]
		s.FileOffset = align.Address(offset, uint64(PageSize))
		s.VirtualAddress = LoadBase + s.FileOffset
		offset = s.FileOffset + uint64(len(s.Content))
	}

	// 4: section header indices (null + one per output section + the
	// three reserved sections). The count alone is what the writer
	// needs; nothing else depends on indices being assigned explicitly
	// since the writer re-derives each index from SectionOrder/the
	// reserved-section constants when it emits headers.
	l.ShdrEntrySize = SectionHeaderSize
	l.ShdrCount = 1 + len(l.SectionOrder) + 3
	l.ShdrOffset = offset

	// 5: section-header string table content (built now so its size is
	// known, even though its file position comes after the symbol/string
	// tables).
	l.ShstrtabContent, l.SectionNameStringID = buildShstrtab(l.SectionOrder)

	// 6: symbol string table content.
	l.StrtabContent, l.SymbolStringID = buildStrtab(l.SymbolOrder)

	// 7: reserve the bodies of symtab, strtab, shstrtab, in that order,
	// directly following the section headers.
	l.SymtabOffset = l.ShdrOffset + uint64(l.ShdrCount)*l.ShdrEntrySize
	l.SymtabSize = uint64(1+len(l.SymbolOrder)) * SymEntrySize
	l.StrtabOffset = l.SymtabOffset + l.SymtabSize
	l.ShstrtabOffset = l.StrtabOffset + uint64(len(l.StrtabContent))
	l.TotalSize = l.ShstrtabOffset + uint64(len(l.ShstrtabContent))

	entry, err := resolveEntrypoint(ctx)
	if err != nil {
		return err
	}
	l.EntryAddress = entry

	ctx.Layout = l
	return nil
}

func resolveEntrypoint(ctx *Context) (uint64, error) {
	sym, ok := ctx.Symbols[EntrypointSymbol]
	if !ok {
		return 0, newError(ResolutionError, errEntrypointNotFound)
	}

	sec, ok := ctx.Sections[sym.SectionName]
	if !ok {
		return 0, newErrorf(ResolutionError, "entry symbol %q names nonexistent section %q", EntrypointSymbol, sym.SectionName)
	}

	return sec.VirtualAddress + sym.Offset, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildShstrtab lays out the section-header string table: a leading
// NUL, then each output section's name, then the three reserved
// section names, each NUL-terminated.
func buildShstrtab(sectionOrder []string) ([]byte, map[string]int) {
	content := []byte{0}
	ids := make(map[string]int, len(sectionOrder)+3)

	appendName := func(name string) {
		ids[name] = len(content)
		content = append(content, []byte(name)...)
		content = append(content, 0)
	}

	for _, name := range sectionOrder {
		appendName(name)
	}
	appendName(".symtab")
	appendName(".strtab")
	appendName(".shstrtab")

	return content, ids
}

// buildStrtab lays out the symbol string table: a leading NUL, then
// each global symbol's name, NUL-terminated.
func buildStrtab(symbolOrder []string) ([]byte, map[string]int) {
	content := []byte{0}
	ids := make(map[string]int, len(symbolOrder))

	for _, name := range symbolOrder {
		ids[name] = len(content)
		content = append(content, []byte(name)...)
		content = append(content, 0)
	}

	return content, ids
}
