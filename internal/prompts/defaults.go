package prompts

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/promptsync/pkg/models"
)

//go:embed defaults/*.md
var defaultTemplates embed.FS

const (
	// DefaultVersion tags prompts served from the built-in set.
	DefaultVersion = "builtin-v1"

	genericTemplate = "generic"
)

// fallbackContent is the last-resort prompt. It needs nothing but memory.
const fallbackContent = `Summarize the following conversation from #{channel}.
Cover the main topics, any decisions made, and open follow-ups.
Be concise and factual.`

// DefaultProvider serves the built-in category templates. The set is loaded
// once and never mutated, so it is safe for concurrent use.
type DefaultProvider struct {
	templates map[string]string
	generic   string
}

// NewDefaultProvider loads the embedded templates.
func NewDefaultProvider() *DefaultProvider {
	return newDefaultProviderFS(defaultTemplates)
}

func newDefaultProviderFS(fsys fs.FS) *DefaultProvider {
	p := &DefaultProvider{templates: map[string]string{}}

	entries, err := fs.Glob(fsys, "defaults/*.md")
	if err != nil {
		log.Error().Err(err).Msg("failed to list built-in prompt templates")
	}
	for _, name := range entries {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			log.Error().Err(err).Str("template", name).Msg("failed to read built-in prompt template")
			continue
		}
		content := strings.TrimSpace(string(body))
		if content == "" {
			continue
		}
		category := strings.TrimSuffix(path.Base(name), ".md")
		if category == genericTemplate {
			p.generic = content
			continue
		}
		p.templates[category] = content
	}
	if p.generic == "" {
		p.generic = fallbackContent
	}
	log.Debug().Int("categories", len(p.templates)).Msg("loaded built-in prompt templates")
	return p
}

// Get returns the built-in template for category, if there is one.
func (p *DefaultProvider) Get(category string) (models.ResolvedPrompt, bool) {
	content, ok := p.templates[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		return models.ResolvedPrompt{}, false
	}
	return models.ResolvedPrompt{Content: content, Source: models.SourceDefault, Version: DefaultVersion}, true
}

// Generic returns the category-independent built-in template.
func (p *DefaultProvider) Generic() models.ResolvedPrompt {
	return models.ResolvedPrompt{Content: p.generic, Source: models.SourceDefault, Version: DefaultVersion}
}

// GetOrGeneric returns the category template, or the generic one.
func (p *DefaultProvider) GetOrGeneric(category string) models.ResolvedPrompt {
	if prompt, ok := p.Get(category); ok {
		return prompt
	}
	return p.Generic()
}

// Fallback returns the hardcoded last-resort prompt. It cannot fail.
func (p *DefaultProvider) Fallback() models.ResolvedPrompt {
	return models.ResolvedPrompt{Content: fallbackContent, Source: models.SourceFallback, Version: DefaultVersion}
}

// Categories lists the categories with a built-in template, sorted.
func (p *DefaultProvider) Categories() []string {
	out := make([]string, 0, len(p.templates))
	for c := range p.templates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
