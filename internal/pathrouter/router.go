// Package pathrouter turns a routing manifest into an ordered list of
// candidate template paths for a prompt context. It performs no I/O.
package pathrouter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/promptsync/internal/schema"
	"github.com/promptsync/pkg/models"
)

const (
	// DefaultValue is substituted for variables when building degraded paths.
	DefaultValue = "default"

	maxValueLength = 100
)

var (
	placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)
	nonWordPattern     = regexp.MustCompile(`[^\w]`)
)

// ErrInvalidDocument is matched by every *ParseError.
var ErrInvalidDocument = errors.New("invalid routing document")

// ParseError carries the validation errors that stopped a parse.
type ParseError struct {
	Errors []string
}

func (e *ParseError) Error() string {
	shown := e.Errors
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return fmt.Sprintf("pathrouter: %s: %s", ErrInvalidDocument, strings.Join(shown, "; "))
}

func (e *ParseError) Is(target error) bool { return target == ErrInvalidDocument }

// RouteConfig is one named routing rule.
type RouteConfig struct {
	Name         string
	PathTemplate string
	Variables    []string // placeholder names, left to right, de-duplicated
	Priority     int
}

// RoutingDocument is a parsed routing manifest.
type RoutingDocument struct {
	Version       string
	Routes        map[string]RouteConfig
	FallbackChain []string
	Variables     map[string]string
	Config        map[string]any
	Warnings      []string
}

// Parse validates and parses a routing manifest.
func Parse(data string) (*RoutingDocument, error) {
	res := schema.ValidatePath(data)
	if !res.Valid {
		return nil, &ParseError{Errors: res.Errors}
	}

	raw, err := schema.DecodeDocument(data)
	if err != nil {
		return nil, &ParseError{Errors: []string{err.Error()}}
	}

	doc := &RoutingDocument{
		Version:   raw.Version,
		Routes:    make(map[string]RouteConfig, len(raw.Routes)),
		Variables: raw.Variables,
		Config:    raw.Config,
		Warnings:  res.Warnings,
	}
	for _, r := range raw.Routes {
		vars := templateVariables(r.Template)
		doc.Routes[r.Name] = RouteConfig{
			Name:         r.Name,
			PathTemplate: r.Template,
			Variables:    vars,
			Priority:     Priority(r.Template),
		}
	}

	if raw.HasFallbackChain {
		doc.FallbackChain = raw.FallbackChain
	} else {
		doc.FallbackChain = raw.RouteNames()
	}

	return doc, nil
}

// Priority ranks a template: 100 per variable plus 10 per path segment.
// It is informational; the fallback chain order is authoritative.
func Priority(template string) int {
	return 100*len(templateVariables(template)) + 10*len(strings.Split(template, "/"))
}

// RoutesByPriority lists routes from most to least specific.
func (d *RoutingDocument) RoutesByPriority() []RouteConfig {
	out := make([]RouteConfig, 0, len(d.Routes))
	for _, r := range d.Routes {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].Name < out[j].Name
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Resolve expands the fallback chain into candidate file paths for pctx.
// Each route yields its fully substituted path followed by degraded
// variants in which variables are replaced by "default" cumulatively,
// right-most placeholder first. The result is de-duplicated in order.
func Resolve(doc *RoutingDocument, pctx models.PromptContext) []string {
	if doc == nil {
		return nil
	}

	fields := pctx.Fields()
	lookup := func(name string) (string, bool) {
		v, ok := fields[name]
		if !ok || v == "" {
			v, ok = doc.Variables[name]
		}
		if !ok {
			return "", false
		}
		v = SanitizeValue(v)
		return v, v != ""
	}

	seen := map[string]bool{}
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, name := range doc.FallbackChain {
		route, ok := doc.Routes[name]
		if !ok {
			continue
		}
		for _, p := range expandRoute(route, lookup) {
			add(p)
		}
	}
	return paths
}

func expandRoute(route RouteConfig, lookup func(string) (string, bool)) []string {
	vars := route.Variables
	if len(vars) == 0 {
		return []string{route.PathTemplate}
	}

	values := make(map[string]string, len(vars))
	missing := make(map[string]bool, len(vars))
	for _, v := range vars {
		if val, ok := lookup(v); ok {
			values[v] = val
		} else {
			missing[v] = true
		}
	}

	var out []string
	// degraded == number of right-most variables forced to "default".
	for degraded := 0; degraded <= len(vars); degraded++ {
		subst := make(map[string]string, len(vars))
		complete := true
		for i, v := range vars {
			if i >= len(vars)-degraded {
				subst[v] = DefaultValue
				continue
			}
			if missing[v] {
				complete = false
				break
			}
			subst[v] = values[v]
		}
		if !complete {
			continue
		}
		out = append(out, substitute(route.PathTemplate, subst))
	}
	return out
}

func substitute(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		return values[m[1:len(m)-1]]
	})
}

func templateVariables(template string) []string {
	var vars []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

// SanitizeValue makes a context value safe to use as a path segment.
func SanitizeValue(v string) string {
	v = strings.ToLower(v)
	v = strings.ReplaceAll(v, "..", "")
	v = nonWordPattern.ReplaceAllString(v, "_")
	if len(v) > maxValueLength {
		v = v[:maxValueLength]
	}
	return v
}
