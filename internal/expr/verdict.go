package expr

import "github.com/zclconf/go-cty/cty"

// Verdict is the three-valued outcome of a guard. Concrete evaluation only
// yields Never or Always; Maybe arises when the guard depends on unknown
// inputs.
type Verdict uint8

const (
	Never Verdict = iota
	Maybe
	Always
)

func (v Verdict) String() string {
	switch v {
	case Never:
		return "never"
	case Always:
		return "always"
	}
	return "maybe"
}

// Possible reports whether the guard may hold.
func (v Verdict) Possible() bool { return v != Never }

// Classify maps a boolean cty value to a verdict.
func Classify(b cty.Value) Verdict {
	switch {
	case !b.IsKnown():
		return Maybe
	case b.True():
		return Always
	}
	return Never
}
