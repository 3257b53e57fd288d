// Package schema validates routing manifests and prompt template bodies
// fetched from tenant repositories.
package schema

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const (
	// MaxDocumentSize caps both routing manifests and template bodies.
	MaxDocumentSize = 100 * 1024
	// MaxPathTemplateLength caps a single route's path template.
	MaxPathTemplateLength = 256
	// TemplateExtension is the only content extension routes should point at.
	TemplateExtension = ".md"

	VersionV1 = "v1"
	VersionV2 = "v2"
)

var (
	identifierPattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)
)

// ValidationResult is the outcome of a single validation call.
type ValidationResult struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newResult() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Invalid builds a failed result from a list of messages.
func Invalid(errs ...string) ValidationResult {
	r := newResult()
	for _, e := range errs {
		r.addError("%s", e)
	}
	return r
}

// FirstErrors returns at most n error messages.
func (r ValidationResult) FirstErrors(n int) []string {
	if len(r.Errors) <= n {
		return r.Errors
	}
	return r.Errors[:n]
}

const routingSchemaJSON = `{
  "type": "object",
  "required": ["version", "routes"],
  "properties": {
    "version": {"type": "string"},
    "routes": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string"}
    },
    "fallback_chain": {"type": "array", "items": {"type": "string"}},
    "variables": {"type": "object"},
    "config": {"type": "object"}
  }
}`

var routingSchema = mustCompileSchema(routingSchemaJSON)

func mustCompileSchema(s string) *gojsonschema.Schema {
	sch, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("schema: compile routing schema: %v", err))
	}
	return sch
}

// ValidatePath validates a routing manifest (the PATH file).
func ValidatePath(data string) ValidationResult {
	res := newResult()

	if strings.TrimSpace(data) == "" {
		res.addError("document is empty")
		return res
	}
	if len(data) > MaxDocumentSize {
		res.addError("document exceeds %d bytes", MaxDocumentSize)
		return res
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		res.addError("%v", err)
		return res
	}

	structural, err := routingSchema.Validate(gojsonschema.NewGoLoader(doc.generic))
	if err != nil {
		res.addError("document is not valid structured data: %v", err)
		return res
	}
	if !structural.Valid() {
		for _, e := range structural.Errors() {
			res.addError("%s: %s", e.Field(), e.Description())
		}
		return res
	}

	switch doc.Version {
	case VersionV1:
	case VersionV2:
		res.addWarning("version v2 is parsed with v1 semantics; v2-only fields are ignored")
	default:
		res.addError("unsupported version %q (supported: v1, v2)", doc.Version)
	}

	declared := make(map[string]bool, len(doc.Routes))
	for _, r := range doc.Routes {
		declared[r.Name] = true
		if !identifierPattern.MatchString(r.Name) {
			res.addError("route name %q must match %s", r.Name, identifierPattern.String())
		}
		validatePathTemplate(&res, r.Name, r.Template)
	}

	seen := map[string]bool{}
	for _, name := range doc.FallbackChain {
		if !declared[name] {
			res.addError("fallback_chain references undeclared route %q", name)
		}
		if seen[name] {
			res.addWarning("fallback_chain lists route %q more than once", name)
		}
		seen[name] = true
	}

	return res
}

func validatePathTemplate(res *ValidationResult, route, tpl string) {
	if tpl == "" {
		res.addError("route %q has an empty path", route)
		return
	}
	if len(tpl) > MaxPathTemplateLength {
		res.addError("route %q path exceeds %d characters", route, MaxPathTemplateLength)
	}
	if strings.Contains(tpl, "..") {
		res.addError("route %q path contains a traversal sequence", route)
	}
	if isAbsolute(tpl) {
		res.addError("route %q path must be relative", route)
	}
	if path.Ext(tpl) != TemplateExtension {
		res.addWarning("route %q path should end in %s", route, TemplateExtension)
	}
	if !hasAllowedRoot(tpl) {
		res.addWarning("route %q path is outside %s and will never resolve", route, strings.Join(AllowedRoots, ", "))
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		if !identifierPattern.MatchString(m[1]) {
			res.addError("route %q has invalid variable name %q", route, m[1])
		}
	}
}

// ValidateTemplate validates a prompt template body. Security matches are
// always errors: template bodies are rendered back to end users.
func ValidateTemplate(body string) ValidationResult {
	res := newResult()

	if strings.TrimSpace(body) == "" {
		res.addError("template is empty")
		return res
	}
	if len(body) > MaxDocumentSize {
		res.addError("template exceeds %d bytes", MaxDocumentSize)
		return res
	}

	for _, rule := range securityRules {
		if rule.pattern.MatchString(body) {
			res.addError("template contains %s", rule.description)
		}
	}

	return res
}
