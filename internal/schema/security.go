package schema

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

type securityRule struct {
	description string
	pattern     *regexp.Regexp
}

var securityRules = []securityRule{
	{"a script tag", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"an event handler attribute", regexp.MustCompile(`(?i)(<[^>]*\son[a-z]+\s*=)|(\bon(?:error|load|click|mouseover|focus|blur|submit|change|keydown|keyup|input)\s*=)`)},
	{"a script protocol link", regexp.MustCompile(`(?i)\b(?:java|vb)script\s*:`)},
	{"double-brace template syntax", regexp.MustCompile(`(?s)\{\{.*?\}\}`)},
	{"block template syntax", regexp.MustCompile(`(?s)\{%.*?%\}`)},
	{"a dynamic code execution call", regexp.MustCompile(`(?i)\b(?:eval|exec)\s*\(|__import__`)},
	{"a path traversal sequence", regexp.MustCompile(`\.\.[/\\]`)},
}

// AllowedRoots are the top-level directories a tenant file may live under.
var AllowedRoots = []string{"prompts", "templates", "summaries", "shared"}

var ErrUnsafePath = errors.New("unsafe path")

// SanitizePath normalises a repository-relative file path and rejects
// anything outside the allow-listed roots.
func SanitizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.Join(ErrUnsafePath, errors.New("path is empty"))
	}
	if strings.Contains(p, "..") {
		return "", errors.Join(ErrUnsafePath, errors.New("path contains a traversal sequence"))
	}
	if isAbsolute(p) {
		return "", errors.Join(ErrUnsafePath, errors.New("path is absolute"))
	}
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if !hasAllowedRoot(clean) {
		return "", errors.Join(ErrUnsafePath, errors.New("path is outside the allowed directories"))
	}
	return clean, nil
}

func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return true
	}
	// Windows drive letters, e.g. C:\ or C:/
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

func hasAllowedRoot(p string) bool {
	root, _, found := strings.Cut(strings.TrimPrefix(p, "./"), "/")
	if !found {
		return false
	}
	for _, allowed := range AllowedRoots {
		if root == allowed {
			return true
		}
	}
	return false
}
