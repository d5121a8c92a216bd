package llm

import "agentcore/pkg/tools"

// SchemaMap renders an input schema as the generic JSON-schema map shape
// shared by the Anthropic and OpenAI wire formats.
func SchemaMap(s tools.InputSchema) map[string]any {
	out := map[string]any{"type": "object"}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name := range s.Properties {
			prop := s.Properties[name]
			props[name] = PropertyMap(&prop)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// PropertyMap renders a single property, recursing into array items and
// nested object properties.
func PropertyMap(p *tools.Property) map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = PropertyMap(p.Items)
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			if child != nil {
				props[name] = PropertyMap(child)
			}
		}
		out["properties"] = props
	}
	if p.MinItems != nil {
		out["minItems"] = *p.MinItems
	}
	if p.MaxItems != nil {
		out["maxItems"] = *p.MaxItems
	}
	return out
}
