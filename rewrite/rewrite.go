// Package rewrite maps catalog-reported media paths onto the mount
// layout the gateway actually sees, via a configured regular expression.
package rewrite

import (
	"log/slog"
	"regexp"
	"sync"
)

// Rewriter applies a single pattern/replacement pair to media paths.
// The pattern is compiled on first use; an empty or invalid pattern
// leaves paths untouched.
type Rewriter struct {
	pattern     string
	replacement string

	once sync.Once
	re   *regexp.Regexp
}

// New builds a Rewriter for the given pattern and replacement. The
// replacement may reference capture groups as $1, $2, and so on.
func New(pattern, replacement string) *Rewriter {
	return &Rewriter{pattern: pattern, replacement: replacement}
}

// Apply rewrites path if the pattern matches, and returns it unchanged
// otherwise. An invalid pattern is logged once and disables rewriting.
func (r *Rewriter) Apply(path string) string {
	r.once.Do(func() {
		if r.pattern == "" {
			return
		}
		re, err := regexp.Compile(r.pattern)
		if err != nil {
			slog.Warn("path rewrite disabled: bad pattern",
				"pattern", r.pattern,
				"error", err)
			return
		}
		r.re = re
	})
	if r.re == nil {
		return path
	}
	return r.re.ReplaceAllString(path, r.replacement)
}
