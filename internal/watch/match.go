package watch

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Pattern is a compiled shell-style glob. Unlike filepath.Match, '*' also
// matches path separators, so "*/.git/*" matches any path inside a .git
// directory and "*.go" matches Go files at any depth.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern compiles a glob. '*' matches any run of characters, '?'
// matches one character, and '[...]' / '[!...]' are character classes.
func CompilePattern(glob string) (Pattern, error) {
	re, err := regexp.Compile(globToRegex(filepath.ToSlash(glob)))
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: glob, re: re}, nil
}

// MustCompilePattern is CompilePattern that panics on a bad glob.
func MustCompilePattern(glob string) Pattern {
	p, err := CompilePattern(glob)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether path matches the pattern.
func (p Pattern) Match(path string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(filepath.ToSlash(path))
}

func (p Pattern) String() string {
	return p.raw
}

// CompilePatterns compiles every glob, failing on the first bad one.
func CompilePatterns(globs []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(globs))
	for _, g := range globs {
		p, err := CompilePattern(g)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MatchAny reports whether any pattern matches path.
func MatchAny(patterns []Pattern, path string) bool {
	for _, p := range patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : end])
			b.WriteString("[")
			if strings.HasPrefix(class, "!") {
				b.WriteString("^")
				class = class[1:]
			}
			b.WriteString(strings.ReplaceAll(class, `\`, `\\`))
			b.WriteString("]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// classEnd returns the index of the ']' closing the class opened at start,
// or -1 if the class is never closed.
func classEnd(runes []rune, start int) int {
	j := start + 1
	if j < len(runes) && runes[j] == '!' {
		j++
	}
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for ; j < len(runes); j++ {
		if runes[j] == ']' {
			return j
		}
	}
	return -1
}
