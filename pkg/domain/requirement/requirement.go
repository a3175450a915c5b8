// Package requirement declares version-range constraints on the external
// tools a pipeline shells out to (FSL, MRtrix, ...).
//
// The core only picks and validates tool versions with these; invoking the
// tools themselves belongs to compute nodes.
package requirement

import (
	"fmt"
	"strconv"
	"strings"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
)

// Version is a dotted numeric version, e.g. 5.0.8.
type Version []int

func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed version '%s'", domerr.ErrUsage, s)
		}
		v = append(v, n)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty version", domerr.ErrUsage)
	}
	return v, nil
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for nth, n := range v {
		parts[nth] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Less compares versions part by part. Missing parts count as 0,
// so 5.0 == 5.0.0 and 5.0 < 5.0.1 .
func (v Version) Less(other Version) bool {
	return v.compare(other) < 0
}

func (v Version) Equal(other Version) bool {
	return v.compare(other) == 0
}

func (v Version) compare(other Version) int {
	size := len(v)
	if len(other) > size {
		size = len(other)
	}
	for nth := 0; nth < size; nth++ {
		a, b := 0, 0
		if nth < len(v) {
			a = v[nth]
		}
		if nth < len(other) {
			b = other[nth]
		}
		if a != b {
			return a - b
		}
	}
	return 0
}

// Requirement is a version range constraint [Min, Max) on a named tool.
//
// Max == nil means no upper bound.
type Requirement struct {
	Name string
	Min  Version
	Max  Version
}

func New(name string, min Version) Requirement {
	return Requirement{Name: name, Min: min}
}

func (r Requirement) WithMax(max Version) Requirement {
	r.Max = max
	return r
}

func (r Requirement) String() string {
	if r.Max == nil {
		return fmt.Sprintf("%s >= %s", r.Name, r.Min)
	}
	return fmt.Sprintf("%s >= %s, < %s", r.Name, r.Min, r.Max)
}

// Satisfied tests whether version v falls in [Min, Max).
func (r Requirement) Satisfied(v Version) bool {
	if v.Less(r.Min) {
		return false
	}
	if r.Max != nil && !v.Less(r.Max) {
		return false
	}
	return true
}

// BestVersion picks the highest of available versions satisfying the range.
//
// ok is false when no available version satisfies it.
func (r Requirement) BestVersion(available []Version) (best Version, ok bool) {
	for _, v := range available {
		if !r.Satisfied(v) {
			continue
		}
		if best == nil || best.Less(v) {
			best = v
			ok = true
		}
	}
	return
}
