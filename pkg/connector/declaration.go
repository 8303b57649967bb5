package connector

// ToolDeclaration describes one named tool: its globally unique name, a
// description, and its input parameters. Names follow the
// <service>_<action> convention so the registry can route without guessing.
type ToolDeclaration struct {
	Name        string
	Description string
	Params      []Param
}

// Param describes one named tool parameter with a primitive JSON type.
type Param struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean"
	Description string
	Required    bool
}

// InputSchema renders the declaration's parameters as a JSON Schema object
// suitable for the MCP tool surface.
func (d ToolDeclaration) InputSchema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	var required []any
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
