package link

import (
	"errors"
	"fmt"
)

// Kind classifies a LinkError into the fixed taxonomy fatal conditions
// fall into. Callers distinguish kinds with errors.As against *LinkError
// and inspecting Kind, or with errors.Is against the sentinels below.
type Kind int

const (
	// IOFailure covers missing files, read errors, and write errors.
	IOFailure Kind = iota
	// FormatError covers inputs that are not 64-bit little-endian
	// relocatable objects, and malformed headers/sections/symbols.
	FormatError
	// UnsupportedFeature covers archive inputs, non-ELF64-LE objects,
	// relocation kinds outside R_X86_64_32S/R_X86_64_PLT32, relocation
	// targets other than symbol/section, and non-standard section-flag
	// encodings.
	UnsupportedFeature
	// ResolutionError covers relocations against undefined symbols and a
	// missing _start.
	ResolutionError
	// InternalInvariant covers states that should be impossible given a
	// correct upstream (e.g. an unresolved Library entry reaching the
	// core).
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case IOFailure:
		return "io failure"
	case FormatError:
		return "format error"
	case UnsupportedFeature:
		return "unsupported feature"
	case ResolutionError:
		return "resolution error"
	case InternalInvariant:
		return "internal invariant violated"
	default:
		return "unknown error"
	}
}

// LinkError is the single error value every fatal condition in the
// pipeline is surfaced as.
type LinkError struct {
	Kind Kind
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *LinkError {
	return &LinkError{Kind: kind, Err: err}
}

func newErrorf(kind Kind, format string, args ...any) *LinkError {
	return &LinkError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

var (
	errEntrypointNotFound  = errors.New("symbol _start is not defined")
	errUnresolvedSymbol    = errors.New("relocation references an undefined symbol")
	errLibraryNotResolved  = errors.New("library entry reached the core unresolved")
	errUnknownRelocTarget  = errors.New("relocation target is neither a section nor a symbol reference")
	errUnknownRelocKind    = errors.New("unsupported relocation kind/encoding/size combination")
	errUnsupportedSectFlag = errors.New("section carries a non-standard flag encoding")
)
