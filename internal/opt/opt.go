// Package opt implements the option-stack command-line grammar and
// library namespec resolution that sit outside the core linking
// pipeline: Parse turns argv into a normalized Opt record, and Resolve
// turns every library namespec it names into a concrete file path.
package opt

import (
	"fmt"

	"github.com/dbx-labs/coldld/internal/link"
)

// HashStyle mirrors --hash-style=sysv/gnu/both. The core ignores it; it
// exists so the option record is complete.
type HashStyle struct {
	SysV bool
	GNU  bool
}

// DefaultHashStyle matches both GNU and legacy SysV hash sections,
// ld's own default.
func DefaultHashStyle() HashStyle {
	return HashStyle{SysV: true, GNU: true}
}

// Opt is the normalized configuration record produced by Parse: every
// field ld accepts, regardless of whether the core linking pipeline
// reads it.
type Opt struct {
	BuildID      bool
	EHFrameHdr   bool
	PIE          bool
	Shared       bool
	Emulation    string
	Output       string
	DynamicLinker string
	SearchDir    []string
	HashStyle    HashStyle
	Soname       string

	// Entries is the ordered object-file/library/group list; this is
	// the slice that, once Resolve has run, becomes the []link.Entry
	// the core pipeline consumes.
	Entries []link.Entry
}

// optStack is the boolean position-dependent state --push-state saves
// and --pop-state restores: --as-needed and -static.
type optStack struct {
	asNeeded   bool
	linkStatic bool
}

// Parse hand-walks args the way a real ld frontend does: a single pass
// with a push/pop state stack for --as-needed/-static, producing a
// normalized Opt. Unrecognized flags (anything starting with "-" that
// isn't handled below) are a parse error; bare positional arguments are
// object files.
func Parse(args []string) (*Opt, error) {
	o := &Opt{HashStyle: DefaultHashStyle()}
	cur := optStack{}
	var stack []optStack

	for i := 0; i < len(args); i++ {
		arg := args[i]

		next := func(flag string) (string, error) {
			i++
			if i >= len(args) {
				return "", fmt.Errorf("missing argument after %s", flag)
			}
			return args[i], nil
		}

		switch {
		case arg == "-dynamic-linker":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			o.DynamicLinker = v

		case hasPrefix(arg, "-L"):
			o.SearchDir = append(o.SearchDir, arg[len("-L"):])

		case hasPrefix(arg, "-l"):
			o.Entries = append(o.Entries, link.LibraryEntry{
				Name:       arg[len("-l"):],
				AsNeeded:   cur.asNeeded,
				LinkStatic: cur.linkStatic,
			})

		case arg == "-m":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			o.Emulation = v

		case arg == "-o":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			o.Output = v

		case arg == "-pie":
			o.PIE = true

		case arg == "-plugin":
			i++ // skip the plugin path argument, unused by this core

		case hasPrefix(arg, "-plugin-opt="):
			// ignored

		case arg == "-shared":
			o.Shared = true

		case arg == "-soname":
			v, err := next(arg)
			if err != nil {
				return nil, err
			}
			o.Soname = v

		case arg == "-static":
			cur.linkStatic = true

		case arg == "-z":
			i++ // skip the -z argument, unused by this core

		case arg == "--as-needed":
			cur.asNeeded = true

		case arg == "--no-as-needed":
			cur.asNeeded = false

		case arg == "--build-id":
			o.BuildID = true

		case arg == "--eh-frame-hdr":
			o.EHFrameHdr = true

		case arg == "--end-group":
			o.Entries = append(o.Entries, link.EndGroupEntry{})

		case hasPrefix(arg, "--hash-style="):
			hs, err := parseHashStyle(arg)
			if err != nil {
				return nil, err
			}
			o.HashStyle = hs

		case arg == "--start-group":
			o.Entries = append(o.Entries, link.StartGroupEntry{})

		case arg == "--pop-state":
			if len(stack) == 0 {
				return nil, fmt.Errorf("--pop-state with no matching --push-state")
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

		case arg == "--push-state":
			stack = append(stack, cur)

		case hasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown argument: %s", arg)

		default:
			o.Entries = append(o.Entries, link.FileEntry{
				Name:     arg,
				AsNeeded: cur.asNeeded,
			})
		}
	}

	return o, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func parseHashStyle(arg string) (HashStyle, error) {
	switch arg {
	case "--hash-style=sysv":
		return HashStyle{SysV: true}, nil
	case "--hash-style=gnu":
		return HashStyle{GNU: true}, nil
	case "--hash-style=both":
		return HashStyle{SysV: true, GNU: true}, nil
	default:
		return HashStyle{}, fmt.Errorf("invalid --hash-style option: %s", arg)
	}
}
