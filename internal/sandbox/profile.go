package sandbox

import "strings"

// Runtime profile names. Mirrors image.Basic/image.Enhanced; defined
// here too so this package's SelectProfile needs no import of
// internal/sandbox/image (which itself imports this package).
const (
	ProfileBasic    = "basic"
	ProfileEnhanced = "enhanced"
)

var enhancedIndicators = []string{
	"numpy", "np.", "scipy", "pandas", "pd.", "matplotlib",
	"plt.", "seaborn", "sklearn", "sympy", "requests",
}

// SelectProfile picks the runtime profile for a piece of source code: a
// caller-supplied hint naming a known profile wins outright, otherwise
// the code is scanned for tokens that indicate it needs the Enhanced
// profile's scientific-computing stack.
func SelectProfile(hint, code string) string {
	switch hint {
	case ProfileBasic, ProfileEnhanced:
		return hint
	}
	for _, indicator := range enhancedIndicators {
		if strings.Contains(code, indicator) {
			return ProfileEnhanced
		}
	}
	return ProfileBasic
}
