// Package policy screens shell lines before they reach a container.
package policy

import (
	"errors"
	"regexp"
	"strings"
)

// ErrForbidden marks a command refused by policy.
var ErrForbidden = errors.New("command forbidden by policy")

// Policy decides whether a user may run a shell line. Implementations must
// be safe for concurrent use.
type Policy interface {
	Check(userID, commandLine string) error
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) Check(string, string) error { return nil }

// Denylist refuses shell lines matching any of a fixed set of destructive
// patterns. It is a tripwire for the obvious, not a sandbox: the container's
// resource limits are the real containment.
type Denylist struct {
	patterns []*regexp.Regexp
}

var defaultPatterns = []string{
	`rm\s+(-[a-zA-Z]*\s+)*-?[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$)`,
	`dd\s+if=`,
	`mkfs`,
	`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`,
	`>\s*/dev/sd[a-z]`,
	`chmod\s+777\s+/(\s|$)`,
	`passwd\s+root`,
}

// NewDenylist builds a Denylist from the default destructive patterns.
func NewDenylist() *Denylist {
	compiled := make([]*regexp.Regexp, 0, len(defaultPatterns))
	for _, p := range defaultPatterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &Denylist{patterns: compiled}
}

// Check implements Policy.
func (d *Denylist) Check(userID, commandLine string) error {
	line := strings.TrimSpace(commandLine)
	for _, re := range d.patterns {
		if re.MatchString(line) {
			return ErrForbidden
		}
	}
	return nil
}
