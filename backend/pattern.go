package backend

// matchPattern reports whether s matches a shell-glob pattern supporting
// `*` (any run, including empty) and `?` (any single byte). This is the
// exact subset SQLite GLOB and Redis MATCH agree on, which keeps Clear,
// Keys, and Count behavior identical across backend variants; stdlib
// path.Match additionally interprets character classes, which the other
// stores do not share.
func matchPattern(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	// Iterative glob with single-star backtracking.
	var pi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
