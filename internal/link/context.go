package link

import "github.com/dbx-labs/coldld/internal/object"

// LoadBase is the fixed virtual address at which the executable's first
// byte is mapped.
const LoadBase = 0x400000

// PageSize is the file-offset alignment granularity for output sections.
const PageSize = 4096

// EntrypointSymbol is the symbol whose resolved address becomes the
// executable's entry point.
const EntrypointSymbol = "_start"

// Entry is one element of the normalized input configuration the core
// consumes: an ordered sequence of files, with StartGroup/EndGroup
// markers the core treats as no-ops. Library entries must be resolved
// to File entries before reaching Link; a surviving Library entry is an
// InternalInvariant error.
type Entry interface {
	isEntry()
}

// FileEntry names a single input file to load and parse.
type FileEntry struct {
	Name     string
	AsNeeded bool
}

func (FileEntry) isEntry() {}

// LibraryEntry names a library namespec (e.g. "-lfoo") that an external
// collaborator resolves to a FileEntry before the core runs.
type LibraryEntry struct {
	Name       string
	AsNeeded   bool
	LinkStatic bool
}

func (LibraryEntry) isEntry() {}

// StartGroupEntry marks the beginning of an archive search group. The
// core emits a warning and otherwise ignores it.
type StartGroupEntry struct{}

func (StartGroupEntry) isEntry() {}

// EndGroupEntry marks the end of an archive search group. The core
// emits a warning and otherwise ignores it.
type EndGroupEntry struct{}

func (EndGroupEntry) isEntry() {}

// RelocTargetKind distinguishes the two shapes a Relocation's target can
// take once merged into an output section.
type RelocTargetKind int

const (
	// SymbolRef targets resolve by symbol name at relocation time.
	SymbolRef RelocTargetKind = iota
	// SectionRef targets resolve directly against an output section's
	// virtual address plus a captured extra offset.
	SectionRef
)

// RelocTarget is the resolved-or-deferred target of a Relocation.
type RelocTarget struct {
	Kind RelocTargetKind
	// Name is the symbol name (SymbolRef) or section name (SectionRef).
	Name string
	// ExtraOffset is only meaningful for SectionRef targets: the
	// base_offsets snapshot captured when the referencing object was
	// merged (see merge.go).
	ExtraOffset uint64
}

// Relocation is the output-side form of object.Reloc: its offset has
// been rebased against the output section at merge time.
type Relocation struct {
	Offset   uint64
	Kind     object.RelocKind
	Encoding object.RelocEncoding
	SizeBits uint8
	Addend   int64
	Target   RelocTarget
}

// OutputSection is a concatenation of same-named input sections.
// Content is grown during merge and frozen (content-wise) once merge
// completes; only layout/patching touch it after that.
type OutputSection struct {
	Name         string
	Content      []byte
	Relocations  []Relocation
	IsExecutable bool

	// FileOffset and VirtualAddress are assigned by layout.go.
	FileOffset     uint64
	VirtualAddress uint64
}

// Symbol is the output-side form of a resolved global symbol.
type Symbol struct {
	Name        string
	SectionName string
	Offset      uint64
}

// Layout holds everything the image layouter computes ahead of writing:
// section/symbol iteration order and every file offset the writer needs,
// none of it recomputed once set.
type Layout struct {
	SectionOrder []string
	SymbolOrder  []string

	ShdrOffset     uint64
	ShdrEntrySize  uint64
	ShdrCount      int
	SymtabOffset   uint64
	SymtabSize     uint64
	StrtabOffset   uint64
	StrtabContent  []byte
	ShstrtabOffset uint64
	ShstrtabContent []byte

	// SymbolStringID maps symbol name to its byte offset within
	// StrtabContent.
	SymbolStringID map[string]int
	// SectionNameStringID maps an output-section or reserved-section
	// name (".symtab", ".strtab", ".shstrtab") to its byte offset
	// within ShstrtabContent.
	SectionNameStringID map[string]int

	// EntryAddress is the resolved virtual address of _start.
	EntryAddress uint64
	// TotalSize is the full size of the emitted file, and therefore the
	// single PT_LOAD segment's p_filesz/p_memsz.
	TotalSize uint64
}

// Context is the per-invocation state threaded through the whole
// pipeline: never package-level, always passed explicitly.
type Context struct {
	Sections map[string]*OutputSection
	Symbols  map[string]*Symbol

	Layout *Layout
}

// NewContext returns an empty linking context.
func NewContext() *Context {
	return &Context{
		Sections: make(map[string]*OutputSection),
		Symbols:  make(map[string]*Symbol),
	}
}
