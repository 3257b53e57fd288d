package schema

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ManifestPath is the fixed root-relative location of the routing manifest.
const ManifestPath = "PATH"

// Route is a single `name: template` entry in declaration order.
type Route struct {
	Name     string
	Template string
}

// Document is the decoded, not yet validated, routing manifest.
type Document struct {
	Version          string
	Routes           []Route
	FallbackChain    []string
	HasFallbackChain bool
	Variables        map[string]string
	Config           map[string]any

	// generic is the plain map form used for structural schema checks.
	generic map[string]any
}

// DecodeDocument parses a routing manifest. Route declaration order is kept,
// which a plain map decode would lose.
func DecodeDocument(data string) (*Document, error) {
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", MaxDocumentSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(data), &root); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("document must be a mapping")
	}
	mapping := root.Content[0]

	doc := &Document{
		Variables: map[string]string{},
		Config:    map[string]any{},
	}
	if err := mapping.Decode(&doc.generic); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i], mapping.Content[i+1]
		switch key.Value {
		case "version":
			if val.Kind == yaml.ScalarNode {
				doc.Version = val.Value
			}
		case "routes":
			if val.Kind != yaml.MappingNode {
				continue
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name, tpl := val.Content[j], val.Content[j+1]
				if tpl.Kind != yaml.ScalarNode {
					continue
				}
				doc.Routes = append(doc.Routes, Route{Name: name.Value, Template: tpl.Value})
			}
		case "fallback_chain":
			doc.HasFallbackChain = true
			for _, item := range val.Content {
				if item.Kind == yaml.ScalarNode {
					doc.FallbackChain = append(doc.FallbackChain, item.Value)
				}
			}
		case "variables":
			var vars map[string]any
			if err := val.Decode(&vars); err == nil {
				for k, v := range vars {
					if v != nil {
						doc.Variables[k] = fmt.Sprint(v)
					}
				}
			}
		case "config":
			_ = val.Decode(&doc.Config)
		}
	}

	return doc, nil
}

// RouteNames returns route names in declaration order.
func (d *Document) RouteNames() []string {
	names := make([]string, 0, len(d.Routes))
	for _, r := range d.Routes {
		names = append(names, r.Name)
	}
	return names
}
