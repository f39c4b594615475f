package cache

import (
	"regexp"
	"strings"
)

// compileGlob turns a redis-style KEYS pattern (*, ?, [set], \escape) into a matcher.
func compileGlob(pattern string) (func(string) bool, error) {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }, nil
	}
	var sb strings.Builder
	sb.WriteString("^")
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			i++
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
		case inClass:
			if c == ']' {
				inClass = false
			}
			if c == '^' && pattern[i-1] == '[' {
				sb.WriteByte('^')
				continue
			}
			sb.WriteByte(c)
		case c == '[':
			inClass = true
			sb.WriteByte('[')
		case c == '*':
			sb.WriteString(".*")
		case c == '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}
