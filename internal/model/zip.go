package model

import (
	"github.com/rotisserie/eris"
)

// ErrInvalidFormat indicates the input is not a well-formed 5-digit ZIP code.
var ErrInvalidFormat = eris.New("invalid zip format")

// ErrOutOfRegion indicates a well-formed ZIP code outside the operating region.
var ErrOutOfRegion = eris.New("zip not in operating region")

// ZipCode is a validated 5-digit postal code. It is the lookup key for every
// territory record and is never persisted as an entity of its own.
type ZipCode string

// ZipRange is an inclusive numeric range of ZIP codes.
type ZipRange struct {
	Lo int `yaml:"lo" mapstructure:"lo"`
	Hi int `yaml:"hi" mapstructure:"hi"`
}

// Contains reports whether n falls inside the range.
func (r ZipRange) Contains(n int) bool {
	return n >= r.Lo && n <= r.Hi
}

// TexasRegion covers the deregulated Texas market plus the Austin and
// El Paso prefix oddities.
var TexasRegion = []ZipRange{
	{Lo: 73301, Hi: 73399},
	{Lo: 75000, Hi: 79999},
	{Lo: 88510, Hi: 88589},
}

// ParseZip validates that s is exactly five ASCII digits. Region membership
// is checked separately via InRegion so callers can distinguish the two
// rejection reasons.
func ParseZip(s string) (ZipCode, error) {
	if len(s) != 5 {
		return "", eris.Wrapf(ErrInvalidFormat, "%q", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", eris.Wrapf(ErrInvalidFormat, "%q", s)
		}
	}
	return ZipCode(s), nil
}

// Num returns the numeric value of the code. Only valid on parsed codes.
func (z ZipCode) Num() int {
	n := 0
	for _, c := range z {
		n = n*10 + int(c-'0')
	}
	return n
}

// InRegion reports whether the code falls inside any of the given ranges.
// An empty range list means no region restriction.
func (z ZipCode) InRegion(ranges []ZipRange) bool {
	if len(ranges) == 0 {
		return true
	}
	n := z.Num()
	for _, r := range ranges {
		if r.Contains(n) {
			return true
		}
	}
	return false
}

// Prefix3 returns the first three digits, the neighborhood key used for
// nearest-neighbor fallback.
func (z ZipCode) Prefix3() string {
	return string(z[:3])
}

func (z ZipCode) String() string {
	return string(z)
}
