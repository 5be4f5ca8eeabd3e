package tag

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is a parsed tag name. Indexed is set when the caller addressed a
// single element with a trailing "[n]" suffix.
type Name struct {
	Base    string
	Index   int
	Indexed bool
}

// ParseName splits "base[n]" into its base and index. A name without a
// trailing bracket addresses the whole tag. Only the last bracket group is
// treated as the index, so "Prog.Arr[2].Flags[7]" has base
// "Prog.Arr[2].Flags" and index 7. Errors wrap ErrInvalidName.
func ParseName(name string) (Name, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Name{}, fmt.Errorf("%w: empty", ErrInvalidName)
	}

	if !strings.HasSuffix(name, "]") {
		if strings.ContainsAny(name, "[]") && strings.Count(name, "[") != strings.Count(name, "]") {
			return Name{}, fmt.Errorf("%w: malformed %q", ErrInvalidName, name)
		}
		return Name{Base: name}, nil
	}

	open := strings.LastIndexByte(name, '[')
	if open <= 0 {
		return Name{}, fmt.Errorf("%w: malformed %q", ErrInvalidName, name)
	}

	raw := name[open+1 : len(name)-1]
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return Name{}, fmt.Errorf("%w: malformed index %q in %q", ErrInvalidName, raw, name)
	}
	if idx < 0 {
		return Name{}, fmt.Errorf("%w: negative index %d in %q", ErrInvalidName, idx, name)
	}

	return Name{Base: name[:open], Index: idx, Indexed: true}, nil
}

func (n Name) String() string {
	if !n.Indexed {
		return n.Base
	}
	return n.Base + "[" + strconv.Itoa(n.Index) + "]"
}
