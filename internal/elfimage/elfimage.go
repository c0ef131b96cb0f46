// Package elfimage implements the Image Writer: it serializes a linked
// and relocated internal/link.Context into a standards-conforming
// ELF64-LE ET_EXEC file with a single PT_LOAD segment.
package elfimage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"

	"github.com/dbx-labs/coldld/internal/iometa"
	"github.com/dbx-labs/coldld/internal/link"
)

const (
	elfMagic = "\x7fELF"

	elfClass64   = 2
	elfData2LSB  = 1
	elfVersion   = 1
	elfOSABINone = 0

	etExec   = 2
	emX8664  = 62
	ptLoad   = 1
	pfX      = 1
	pfW      = 2
	pfR      = 4
	shtNull     = 0
	shtProgBits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shfAlloc     = 2
	shfExecInstr = 4

	stbGlobal = 1
	sttNotype = 0
)

// fileHeader64 mirrors Elf64_Ehdr, minus the 16-byte e_ident which is
// written separately since it isn't a uniform field list.
type fileHeader64 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// progHeader64 mirrors Elf64_Phdr.
type progHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// sectionHeader64 mirrors Elf64_Shdr.
type sectionHeader64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// symEntry64 mirrors Elf64_Sym.
type symEntry64 struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Image wraps a finished link.Context for serialization.
type Image struct {
	ctx *link.Context
}

// New wraps ctx, which must already have gone through layout and
// relocation (link.Link returns exactly such a Context).
func New(ctx *link.Context) *Image {
	return &Image{ctx: ctx}
}

// WriteTo writes the full ELF64 executable image to output, in the
// order spec.md §4.6 fixes: file header, program header, section
// bodies, section headers, symbol table, string table,
// section-header string table.
func (img *Image) WriteTo(output io.Writer) (int64, error) {
	ctx := img.ctx
	l := ctx.Layout
	w := &iometa.CountingWriter{Writer: output}
	opts := &struc.Options{Order: binary.LittleEndian}

	if err := writeIdent(w); err != nil {
		return int64(w.BytesWritten()), err
	}

	shstrndx := 1 + len(l.SectionOrder) + 2 // null + sections + symtab + strtab -> shstrtab is last
	hdr := &fileHeader64{
		Type:      etExec,
		Machine:   emX8664,
		Version:   elfVersion,
		Entry:     l.EntryAddress,
		PhOff:     link.ELFHeaderSize,
		ShOff:     l.ShdrOffset,
		EhSize:    link.ELFHeaderSize,
		PhEntSize: link.ProgHeaderSize,
		PhNum:     1,
		ShEntSize: uint16(l.ShdrEntrySize),
		ShNum:     uint16(l.ShdrCount),
		ShStrNdx:  uint16(shstrndx),
	}
	if err := struc.PackWithOptions(w, hdr, opts); err != nil {
		return int64(w.BytesWritten()), fmt.Errorf("failed to write ELF header: %w", err)
	}

	phdr := &progHeader64{
		Type:   ptLoad,
		Flags:  pfR | pfW | pfX,
		Offset: 0,
		VAddr:  link.LoadBase,
		PAddr:  link.LoadBase,
		FileSz: l.TotalSize,
		MemSz:  l.TotalSize,
		Align:  link.PageSize,
	}
	if err := struc.PackWithOptions(w, phdr, opts); err != nil {
		return int64(w.BytesWritten()), fmt.Errorf("failed to write program header: %w", err)
	}

	for _, name := range l.SectionOrder {
		s := ctx.Sections[name]
		pad := int(s.FileOffset) - w.BytesWritten()
		if pad < 0 {
			return int64(w.BytesWritten()), fmt.Errorf("internal error: section %q offset %d precedes current write position %d", name, s.FileOffset, w.BytesWritten())
		}
		if err := iometa.WriteZeros(w, pad); err != nil {
			return int64(w.BytesWritten()), fmt.Errorf("failed to pad to section %q: %w", name, err)
		}
		if _, err := w.Write(s.Content); err != nil {
			return int64(w.BytesWritten()), fmt.Errorf("failed to write section %q body: %w", name, err)
		}
	}

	if pad := int(l.ShdrOffset) - w.BytesWritten(); pad > 0 {
		if err := iometa.WriteZeros(w, pad); err != nil {
			return int64(w.BytesWritten()), fmt.Errorf("failed to pad to section headers: %w", err)
		}
	}

	if err := writeSectionHeaders(w, ctx, opts); err != nil {
		return int64(w.BytesWritten()), err
	}

	if err := writeSymbolTable(w, ctx, opts); err != nil {
		return int64(w.BytesWritten()), err
	}

	if _, err := w.Write(l.StrtabContent); err != nil {
		return int64(w.BytesWritten()), fmt.Errorf("failed to write string table: %w", err)
	}

	if _, err := w.Write(l.ShstrtabContent); err != nil {
		return int64(w.BytesWritten()), fmt.Errorf("failed to write section-header string table: %w", err)
	}

	return int64(w.BytesWritten()), nil
}

// writeIdent writes the 16-byte e_ident field, which struc can't
// express as part of fileHeader64 because its meaning is per-byte
// rather than a uniform field list.
func writeIdent(w io.Writer) error {
	ident := [16]byte{}
	copy(ident[:4], elfMagic)
	ident[4] = elfClass64
	ident[5] = elfData2LSB
	ident[6] = elfVersion
	ident[7] = elfOSABINone

	if _, err := w.Write(ident[:]); err != nil {
		return fmt.Errorf("failed to write e_ident: %w", err)
	}
	return nil
}

func writeSectionHeaders(w io.Writer, ctx *link.Context, opts *struc.Options) error {
	l := ctx.Layout

	null := &sectionHeader64{Type: shtNull}
	if err := struc.PackWithOptions(w, null, opts); err != nil {
		return fmt.Errorf("failed to write null section header: %w", err)
	}

	for _, name := range l.SectionOrder {
		s := ctx.Sections[name]
		flags := uint64(shfAlloc)
		if s.IsExecutable {
			flags |= shfExecInstr
		}

		sh := &sectionHeader64{
			Name:      uint32(l.SectionNameStringID[name]),
			Type:      shtProgBits,
			Flags:     flags,
			Addr:      s.VirtualAddress,
			Offset:    s.FileOffset,
			Size:      uint64(len(s.Content)),
			AddrAlign: 1,
		}
		if err := struc.PackWithOptions(w, sh, opts); err != nil {
			return fmt.Errorf("failed to write section header %q: %w", name, err)
		}
	}

	strtabIdx := uint32(1 + len(l.SectionOrder) + 1) // null + sections + symtab -> next is strtab
	symtab := &sectionHeader64{
		Name:    uint32(l.SectionNameStringID[".symtab"]),
		Type:    shtSymtab,
		Offset:  l.SymtabOffset,
		Size:    l.SymtabSize,
		Link:    strtabIdx, // sh_link of .symtab names its string table, .strtab
		EntSize: link.SymEntrySize,
	}
	if err := struc.PackWithOptions(w, symtab, opts); err != nil {
		return fmt.Errorf("failed to write .symtab section header: %w", err)
	}

	strtab := &sectionHeader64{
		Name:   uint32(l.SectionNameStringID[".strtab"]),
		Type:   shtStrtab,
		Offset: l.StrtabOffset,
		Size:   uint64(len(l.StrtabContent)),
	}
	if err := struc.PackWithOptions(w, strtab, opts); err != nil {
		return fmt.Errorf("failed to write .strtab section header: %w", err)
	}

	shstrtab := &sectionHeader64{
		Name:   uint32(l.SectionNameStringID[".shstrtab"]),
		Type:   shtStrtab,
		Offset: l.ShstrtabOffset,
		Size:   uint64(len(l.ShstrtabContent)),
	}
	if err := struc.PackWithOptions(w, shstrtab, opts); err != nil {
		return fmt.Errorf("failed to write .shstrtab section header: %w", err)
	}

	return nil
}

func writeSymbolTable(w io.Writer, ctx *link.Context, opts *struc.Options) error {
	l := ctx.Layout

	null := &symEntry64{}
	if err := struc.PackWithOptions(w, null, opts); err != nil {
		return fmt.Errorf("failed to write null symbol: %w", err)
	}

	for _, name := range l.SymbolOrder {
		sym := ctx.Symbols[name]
		sec := ctx.Sections[sym.SectionName]

		shndx, err := sectionIndex(l.SectionOrder, sym.SectionName)
		if err != nil {
			return err
		}

		se := &symEntry64{
			Name:  uint32(l.SymbolStringID[name]),
			Info:  stbGlobal<<4 | sttNotype,
			Shndx: shndx,
			Value: sec.VirtualAddress + sym.Offset,
		}
		if err := struc.PackWithOptions(w, se, opts); err != nil {
			return fmt.Errorf("failed to write symbol %q: %w", name, err)
		}
	}

	return nil
}

func sectionIndex(order []string, name string) (uint16, error) {
	for i, n := range order {
		if n == name {
			return uint16(i + 1), nil // +1: index 0 is the null section
		}
	}
	return 0, fmt.Errorf("symbol references section %q which is not in the output", name)
}
