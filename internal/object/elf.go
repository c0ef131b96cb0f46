package object

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lunixbochs/struc"
)

const flagExecInstr = uint64(elf.SHF_EXECINSTR)

// ErrUnsupportedFormat is returned when the input is not a 64-bit
// little-endian relocatable (ET_REL) object.
var ErrUnsupportedFormat = errors.New("input is not a 64-bit little-endian relocatable object")

// ErrUnsupportedRelocation is returned for any relocation kind other than
// R_X86_64_32S or R_X86_64_PLT32.
var ErrUnsupportedRelocation = errors.New("unsupported relocation type")

// excludedSectionNames are never merged into the output; they are either
// regenerated by the image writer or are parser-internal metadata.
var excludedSectionNames = map[string]bool{
	"":          true, // the null (SHN_UNDEF) section
	".symtab":   true,
	".strtab":   true,
	".shstrtab": true,
}

func excluded(name string) bool {
	if excludedSectionNames[name] {
		return true
	}
	return len(name) >= 5 && name[:5] == ".rela"
}

// Parse decodes data as a 64-bit little-endian ELF relocatable object.
// Any other class, byte order, or file type is rejected as
// ErrUnsupportedFormat.
func Parse(data []byte) (*File, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Type != elf.ET_REL {
		return nil, ErrUnsupportedFormat
	}

	sections, nameToIndex := collectSections(f)

	if err := attachRelocations(f, sections, nameToIndex); err != nil {
		return nil, err
	}

	symbols, err := collectSymbols(f, sections)
	if err != nil {
		return nil, err
	}

	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s != nil {
			out = append(out, *s)
		}
	}

	return &File{Sections: out, Symbols: symbols}, nil
}

// collectSections returns one *Section per raw ELF section index
// (nil for excluded/empty/unnamed sections), plus a name->index map for
// sections that were kept. Indices follow the raw ELF section numbering
// so relocation sh_info fields can look sections up directly.
func collectSections(f *elf.File) ([]*Section, map[string]int) {
	sections := make([]*Section, len(f.Sections))
	nameToIndex := make(map[string]int)

	for i, s := range f.Sections {
		if excluded(s.Name) {
			continue
		}

		data := sectionData(s)
		if len(data) == 0 {
			continue
		}

		sections[i] = &Section{
			Name:  s.Name,
			Data:  data,
			Flags: uint64(s.Flags),
		}
		nameToIndex[s.Name] = i
	}

	return sections, nameToIndex
}

// sectionData returns the raw bytes of s, treating SHT_NOBITS (.bss-like)
// sections as empty: they occupy no file bytes, matching the upstream
// object-reading behavior this linker's relocation math relies on (see
// DESIGN.md).
func sectionData(s *elf.Section) []byte {
	if s.Type == elf.SHT_NOBITS {
		return nil
	}
	data, err := s.Data()
	if err != nil {
		return nil
	}
	return data
}

func attachRelocations(f *elf.File, sections []*Section, nameToIndex map[string]int) error {
	_ = nameToIndex

	for _, relSection := range f.Sections {
		if relSection.Type != elf.SHT_REL && relSection.Type != elf.SHT_RELA {
			continue
		}

		targetIdx := int(relSection.Info)
		if targetIdx >= len(sections) || sections[targetIdx] == nil {
			// Relocations against an excluded or empty section carry no
			// observable effect; skip them.
			continue
		}
		target := sections[targetIdx]

		hasAddend := relSection.Type == elf.SHT_RELA

		symtabSection := symtabForReloc(f, relSection)
		symbolNames, symbolKinds, symbolSections, err := rawSymbolTable(f, symtabSection)
		if err != nil {
			return err
		}

		reader := relSection.Open()
		count := relSection.Size / relSection.Entsize

		for i := uint64(0); i < count; i++ {
			var symIdx, relType uint32
			var offset uint64
			var addend int64

			if hasAddend {
				var rela elf.Rela64
				if err := struc.UnpackWithOptions(reader, &rela, &struc.Options{Order: binary.LittleEndian}); err != nil {
					return fmt.Errorf("failed to decode Rela64 entry in %s: %w", relSection.Name, err)
				}
				symIdx, relType = uint32(rela.Info>>32), uint32(rela.Info&0xffffffff)
				offset, addend = rela.Off, rela.Addend
			} else {
				var rel elf.Rel64
				if err := struc.UnpackWithOptions(reader, &rel, &struc.Options{Order: binary.LittleEndian}); err != nil {
					return fmt.Errorf("failed to decode Rel64 entry in %s: %w", relSection.Name, err)
				}
				symIdx, relType = uint32(rel.Info>>32), uint32(rel.Info&0xffffffff)
				offset = rel.Off
			}

			kind, encoding, sizeBits, err := classifyRelocType(elf.R_X86_64(relType))
			if err != nil {
				return err
			}

			if int(symIdx) >= len(symbolNames) {
				return fmt.Errorf("relocation in %s references out-of-range symbol index %d", relSection.Name, symIdx)
			}

			r := Reloc{
				Offset:   offset,
				Kind:     kind,
				Encoding: encoding,
				SizeBits: sizeBits,
				Addend:   addend,
			}

			if symbolKinds[symIdx] == SymbolSection {
				r.TargetKind = TargetSection
				r.SectionName = symbolSections[symIdx]
			} else {
				r.TargetKind = TargetSymbol
				r.SymbolName = symbolNames[symIdx]
			}

			target.Relocations = append(target.Relocations, r)
		}
	}

	return nil
}

func classifyRelocType(typ elf.R_X86_64) (RelocKind, RelocEncoding, uint8, error) {
	switch typ {
	case elf.R_X86_64_32S:
		return RelocAbsolute, EncodingSignedDisplacement, 32, nil
	case elf.R_X86_64_PLT32:
		return RelocPLT, EncodingGeneric, 32, nil
	default:
		return 0, 0, 0, fmt.Errorf("relocation type %s: %w", typ, ErrUnsupportedRelocation)
	}
}

// symtabForReloc returns the object's symbol table section (the first
// SHT_SYMTAB section), or nil if there is none. The relocation
// section's sh_link field is not consulted.
func symtabForReloc(f *elf.File, relSection *elf.Section) *elf.Section {
	for _, s := range f.Sections {
		if s.Type == elf.SHT_SYMTAB {
			return s
		}
	}
	return nil
}

// rawSymbolTable decodes the full raw symbol table (including the null
// symbol, at index 0) so relocation entries can look symbols up by raw
// index. This intentionally duplicates some of collectSymbols' work
// because relocation symbol indices are positional within the raw
// table, whereas collectSymbols produces the linker's index-free view.
func rawSymbolTable(f *elf.File, symtab *elf.Section) ([]string, []SymbolKind, []string, error) {
	if symtab == nil {
		return nil, nil, nil, errors.New("object has relocations but no symbol table")
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read symbol table: %w", err)
	}

	names := make([]string, len(syms)+1)
	kinds := make([]SymbolKind, len(syms)+1)
	sectionNames := make([]string, len(syms)+1)

	for i, sym := range syms {
		idx := i + 1 // f.Symbols() omits the null symbol at index 0
		names[idx] = sym.Name
		kinds[idx], sectionNames[idx] = classifySymbol(f, sym)
	}

	return names, kinds, sectionNames, nil
}

func classifySymbol(f *elf.File, sym elf.Symbol) (SymbolKind, string) {
	if sym.Section == elf.SHN_UNDEF {
		return SymbolUndefined, ""
	}
	if elf.ST_TYPE(sym.Info) == elf.STT_SECTION {
		return SymbolSection, sectionName(f, sym.Section)
	}
	return SymbolDefined, sectionName(f, sym.Section)
}

func sectionName(f *elf.File, idx elf.SectionIndex) string {
	if int(idx) >= len(f.Sections) {
		return ""
	}
	return f.Sections[idx].Name
}

func collectSymbols(f *elf.File, sections []*Section) ([]Symbol, error) {
	_ = sections

	syms, err := f.Symbols()
	if err != nil {
		// No symbol table at all is fine; objects without one simply
		// contribute no symbols.
		return nil, nil
	}

	out := make([]Symbol, 0, len(syms))
	for _, sym := range syms {
		kind, secName := classifySymbol(f, sym)
		out = append(out, Symbol{
			Name:        sym.Name,
			Kind:        kind,
			SectionName: secName,
			Value:       sym.Value,
		})
	}

	return out, nil
}
