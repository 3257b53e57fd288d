package repository

import (
	"net/url"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseRepositoryRef accepts "owner/repo", "github.com/owner/repo" or a
// browser URL such as "https://github.com/owner/repo/tree/main/prompts".
func ParseRepositoryRef(ref string) (owner, repo string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", false
	}

	var parts []string
	switch {
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil || !isGitHubHost(u.Host) {
			return "", "", false
		}
		parts = splitPath(u.Path)
	case strings.HasPrefix(strings.ToLower(ref), "github.com/"), strings.HasPrefix(strings.ToLower(ref), "www.github.com/"):
		_, rest, _ := strings.Cut(ref, "/")
		parts = splitPath(rest)
	default:
		parts = splitPath(ref)
		if len(parts) != 2 {
			return "", "", false
		}
	}

	if len(parts) < 2 {
		return "", "", false
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if !namePattern.MatchString(owner) || !namePattern.MatchString(repo) {
		return "", "", false
	}
	return owner, repo, true
}

// NormalizeRef returns the canonical "owner/repo" form.
func NormalizeRef(ref string) (string, bool) {
	owner, repo, ok := ParseRepositoryRef(ref)
	if !ok {
		return "", false
	}
	return owner + "/" + repo, true
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || host == "www.github.com"
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
