package codec

import (
	"fmt"
	"regexp"
	"strconv"
)

// Revision is a protocol revision as advertised by the kernel headers
// (__NSTAT_REVISION__). Every revision maps to a single set of layouts.
type Revision int

const (
	// Revision7 covers xnu-2782 (10.10) through xnu-3248 (10.11).
	Revision7 Revision = 7

	// Revision8 is xnu-3789 (10.12): 64-bit source references and
	// providers split into kernel and userland flavours.
	Revision8 Revision = 8

	// Revision9 is xnu-4570 (10.13) and later: naturally aligned layouts.
	Revision9 Revision = 9
)

var revisionName = map[Revision]string{
	Revision7: "xnu-3248",
	Revision8: "xnu-3789",
	Revision9: "xnu-4570",
}

func (r Revision) String() string {
	name, ok := revisionName[r]
	if !ok {
		return fmt.Sprintf("unknown(%d)", int(r))
	}
	return name
}

// DefaultXNUVersion is assumed whenever the running kernel's version
// can't be figured out.
const DefaultXNUVersion int = 2000

var xnuRe = regexp.MustCompile(`xnu-(\d+)`)

// ParseXNUVersion extracts the major XNU version from a kernel version
// string such as the one reported by uname(3):
//
//	Darwin Kernel Version 17.7.0: ...; root:xnu-4570.71.2~1/RELEASE_X86_64
func ParseXNUVersion(version string) (int, error) {
	m := xnuRe.FindStringSubmatch(version)
	if m == nil {
		return 0, fmt.Errorf("no xnu version found in %q", version)
	}

	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("couldn't parse xnu version %q: %w", m[1], err)
	}

	return v, nil
}

// RevisionForXNU picks the layouts matching a major XNU version. Kernels
// predating xnu-3248 are handled with its layouts.
func RevisionForXNU(xnu int) Revision {
	switch {
	case xnu > 3800:
		return Revision9
	case xnu > 3300:
		return Revision8
	default:
		return Revision7
	}
}

// ParseRevision accepts either a bare revision number or an xnu-NNNN tag.
func ParseRevision(s string) (Revision, error) {
	if v, err := strconv.Atoi(s); err == nil {
		if _, ok := layouts[Revision(v)]; ok {
			return Revision(v), nil
		}
		return 0, fmt.Errorf("revision %d: %w", v, ErrUnsupportedRevision)
	}

	xnu, err := ParseXNUVersion(s)
	if err != nil {
		return 0, fmt.Errorf("couldn't parse revision %q: %w", s, err)
	}
	return RevisionForXNU(xnu), nil
}
