package toolspec

import "github.com/bmatcuk/doublestar/v4"

// Matches reports whether name matches any of the given glob patterns.
// SessionConfig.ToolAllow/ToolDeny are glob patterns over tool names, so
// doublestar's `**`-aware matching applies rather than plain path globs.
func Matches(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Allowed applies SessionConfig's allow/deny lists: deny takes
// priority over allow; an empty allow list permits everything not denied.
func Allowed(allow, deny []string, name string) bool {
	if Matches(deny, name) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return Matches(allow, name)
}
