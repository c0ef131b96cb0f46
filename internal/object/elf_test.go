package object

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// The fixtures below hand-assemble minimal ELF64 ET_REL byte buffers,
// the same way a real object file would be laid out, so that Parse is
// exercised against actual wire bytes rather than pre-built Go structs.

const (
	shtNull     = 0
	shtProgBits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecInstr = 0x4

	rX8664_32S  = 11
	rX8664_PLT32 = 4

	sttSection = 3
	sttObject  = 1
	stbGlobal  = 1
)

type fixtureSection struct {
	name   string
	data   []byte
	flags  uint64
	relocs []fixtureReloc
}

type fixtureReloc struct {
	offset   uint64
	symIndex uint32 // 1-based index into the fixtureSymbol slice; 0 means the null symbol
	relType  uint32
	addend   int64
}

type fixtureSymbol struct {
	name     string
	info     uint8
	sectIdx  uint16 // 1-based index into the fixtureSection slice; 0 means SHN_UNDEF
	value    uint64
}

// buildELF assembles a full little-endian ELF64 ET_REL file from the
// given sections and symbols.
func buildELF(t *testing.T, sections []fixtureSection, symbols []fixtureSymbol) []byte {
	t.Helper()

	// Section index plan: 0 = null, 1..n = sections, n+1.. = one .rela
	// per section that has relocations, then symtab, strtab, shstrtab.
	var relaFor []int // indices (into sections) that get a .rela section, in order
	for i, s := range sections {
		if len(s.relocs) > 0 {
			relaFor = append(relaFor, i)
		}
	}

	numSections := 1 + len(sections) + len(relaFor) + 3
	symtabIdx := uint16(1 + len(sections) + len(relaFor))
	strtabIdx := symtabIdx + 1
	shstrtabIdx := symtabIdx + 2

	buf := &bytes.Buffer{}
	write := func(v any) {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("failed to write fixture field: %v", err)
		}
	}

	// Reserve header space; filled in at the end.
	headerPos := buf.Len()
	buf.Write(make([]byte, 64))

	sectionOffsets := make([]uint64, len(sections))
	for i, s := range sections {
		sectionOffsets[i] = uint64(buf.Len())
		buf.Write(s.data)
	}

	relaOffsets := make(map[int]uint64, len(relaFor))
	relaSizes := make(map[int]uint64, len(relaFor))
	for _, si := range relaFor {
		relaOffsets[si] = uint64(buf.Len())
		for _, r := range sections[si].relocs {
			info := (uint64(r.symIndex) << 32) | uint64(r.relType)
			write(r.offset)
			write(info)
			write(r.addend)
		}
		relaSizes[si] = uint64(len(sections[si].relocs)) * 24
	}

	symtabOffset := uint64(buf.Len())
	// null symbol
	write(uint32(0))
	write(uint8(0))
	write(uint8(0))
	write(uint16(0))
	write(uint64(0))
	write(uint64(0))

	strtab := []byte{0}
	strtabID := make([]int, len(symbols))
	for i, sym := range symbols {
		strtabID[i] = len(strtab)
		strtab = append(strtab, []byte(sym.name)...)
		strtab = append(strtab, 0)
	}

	for i, sym := range symbols {
		write(uint32(strtabID[i]))
		write(sym.info)
		write(uint8(0))
		write(sym.sectIdx)
		write(sym.value)
		write(uint64(0))
	}
	symtabSize := uint64(24 * (1 + len(symbols)))

	strtabOffset := uint64(buf.Len())
	buf.Write(strtab)

	shstrtab := []byte{0}
	shstrtabID := make([]int, len(sections))
	for i, s := range sections {
		shstrtabID[i] = len(shstrtab)
		shstrtab = append(shstrtab, []byte(s.name)...)
		shstrtab = append(shstrtab, 0)
	}
	relaNameID := make(map[int]int, len(relaFor))
	for _, si := range relaFor {
		relaNameID[si] = len(shstrtab)
		shstrtab = append(shstrtab, []byte(".rela"+sections[si].name)...)
		shstrtab = append(shstrtab, 0)
	}
	symtabNameID := len(shstrtab)
	shstrtab = append(shstrtab, []byte(".symtab\x00")...)
	strtabNameID := len(shstrtab)
	shstrtab = append(shstrtab, []byte(".strtab\x00")...)
	shstrtabNameID := len(shstrtab)
	shstrtab = append(shstrtab, []byte(".shstrtab\x00")...)

	shstrtabOffset := uint64(buf.Len())
	buf.Write(shstrtab)

	shoff := uint64(buf.Len())

	// Null section header.
	writeShdr(write, 0, shtNull, 0, 0, 0, 0, 0, 0, 0, 0)

	for i, s := range sections {
		writeShdr(write, uint32(shstrtabID[i]), shtProgBits, s.flags, 0, sectionOffsets[i], uint64(len(s.data)), 0, 0, 1, 0)
	}

	for _, si := range relaFor {
		writeShdr(write, uint32(relaNameID[si]), shtRela, 0, 0, relaOffsets[si], relaSizes[si], uint32(symtabIdx), uint32(si+1), 8, 24)
	}

	// sh_info for .symtab is the index of the first non-local symbol;
	// it is always written as 1 here, even when a fixture declares a
	// local symbol (such as a section symbol). debug/elf does not read it.
	writeShdr(write, uint32(symtabNameID), shtSymtab, 0, 0, symtabOffset, symtabSize, uint32(strtabIdx), 1, 8, 24)
	writeShdr(write, uint32(strtabNameID), shtStrtab, 0, 0, strtabOffset, uint64(len(strtab)), 0, 0, 1, 0)
	writeShdr(write, uint32(shstrtabNameID), shtStrtab, 0, 0, shstrtabOffset, uint64(len(shstrtab)), 0, 0, 1, 0)

	full := buf.Bytes()

	// Patch the ELF header now that every offset is known.
	var hdr bytes.Buffer
	hdr.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	hdr.Write(make([]byte, 8))
	binary.Write(&hdr, binary.LittleEndian, uint16(1))  // e_type = ET_REL
	binary.Write(&hdr, binary.LittleEndian, uint16(62)) // e_machine = EM_X86_64
	binary.Write(&hdr, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&hdr, binary.LittleEndian, uint64(0))  // e_entry
	binary.Write(&hdr, binary.LittleEndian, uint64(0))  // e_phoff
	binary.Write(&hdr, binary.LittleEndian, shoff)       // e_shoff
	binary.Write(&hdr, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&hdr, binary.LittleEndian, uint16(64)) // e_ehsize
	binary.Write(&hdr, binary.LittleEndian, uint16(0))  // e_phentsize
	binary.Write(&hdr, binary.LittleEndian, uint16(0))  // e_phnum
	binary.Write(&hdr, binary.LittleEndian, uint16(64)) // e_shentsize
	binary.Write(&hdr, binary.LittleEndian, uint16(numSections))
	binary.Write(&hdr, binary.LittleEndian, uint16(shstrtabIdx))

	copy(full[0:64], hdr.Bytes())

	return full
}

func writeShdr(write func(any), name uint32, typ uint32, flags uint64, addr uint64, offset uint64, size uint64, link uint32, info uint32, align uint64, entsize uint64) {
	write(name)
	write(typ)
	write(flags)
	write(addr)
	write(offset)
	write(size)
	write(link)
	write(info)
	write(align)
	write(entsize)
}

func TestParseSingleObjectNoRelocations(t *testing.T) {
	sections := []fixtureSection{
		{name: ".text", data: make([]byte, 16), flags: shfAlloc | shfExecInstr},
	}
	symbols := []fixtureSymbol{
		{name: "_start", info: stbGlobal<<4 | 0, sectIdx: 1, value: 0},
	}

	f, err := Parse(buildELF(t, sections, symbols))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if len(f.Sections) != 1 || f.Sections[0].Name != ".text" {
		t.Fatalf("Sections = %+v, want one .text section", f.Sections)
	}
	if len(f.Sections[0].Data) != 16 {
		t.Fatalf(".text data length = %d, want 16", len(f.Sections[0].Data))
	}
	if !f.Sections[0].Executable() {
		t.Error(".text should be executable")
	}

	var start *Symbol
	for i := range f.Symbols {
		if f.Symbols[i].Name == "_start" {
			start = &f.Symbols[i]
		}
	}
	if start == nil {
		t.Fatal("_start symbol not found")
	}
	if start.Kind != SymbolDefined || start.SectionName != ".text" || start.Value != 0 {
		t.Errorf("_start = %+v, want Defined in .text at 0", *start)
	}
}

func TestParseRelocationAbsolute32S(t *testing.T) {
	text := make([]byte, 8)
	sections := []fixtureSection{
		{name: ".text", data: text, flags: shfAlloc | shfExecInstr, relocs: []fixtureReloc{
			{offset: 4, symIndex: 2, relType: rX8664_32S, addend: 0},
		}},
		{name: ".data", data: make([]byte, 16), flags: shfAlloc | shfWrite},
	}
	symbols := []fixtureSymbol{
		{name: "_start", info: stbGlobal << 4, sectIdx: 1, value: 0},
		{name: "data", info: stbGlobal << 4, sectIdx: 2, value: 8},
	}

	f, err := Parse(buildELF(t, sections, symbols))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	var textSec *Section
	for i := range f.Sections {
		if f.Sections[i].Name == ".text" {
			textSec = &f.Sections[i]
		}
	}
	if textSec == nil {
		t.Fatal(".text section missing")
	}
	if len(textSec.Relocations) != 1 {
		t.Fatalf("relocations = %d, want 1", len(textSec.Relocations))
	}
	r := textSec.Relocations[0]
	if r.Kind != RelocAbsolute || r.Encoding != EncodingSignedDisplacement || r.SizeBits != 32 {
		t.Errorf("reloc classification = %+v, want (Absolute, SignedDisplacement, 32)", r)
	}
	if r.TargetKind != TargetSymbol || r.SymbolName != "data" {
		t.Errorf("reloc target = %+v, want SymbolRef(data)", r)
	}
}

func TestParseSectionTargetRelocation(t *testing.T) {
	sections := []fixtureSection{
		{name: ".rodata", data: make([]byte, 16), flags: shfAlloc},
		{name: ".text", data: make([]byte, 8), flags: shfAlloc | shfExecInstr, relocs: []fixtureReloc{
			{offset: 0, symIndex: 1, relType: rX8664_32S, addend: 4},
		}},
	}
	symbols := []fixtureSymbol{
		// A section symbol for .rodata, as emitted by an assembler.
		{name: "", info: sttSection, sectIdx: 1, value: 0},
	}

	f, err := Parse(buildELF(t, sections, symbols))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	var textSec *Section
	for i := range f.Sections {
		if f.Sections[i].Name == ".text" {
			textSec = &f.Sections[i]
		}
	}
	if textSec == nil || len(textSec.Relocations) != 1 {
		t.Fatalf("textSec = %+v", textSec)
	}

	r := textSec.Relocations[0]
	if r.TargetKind != TargetSection || r.SectionName != ".rodata" {
		t.Errorf("reloc target = %+v, want SectionRef(.rodata)", r)
	}
}

func TestParseRejectsNon64BitLE(t *testing.T) {
	data := []byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1, 1, 0}
	data = append(data, make([]byte, 56)...)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for non-64-bit input, got nil")
	}
}
