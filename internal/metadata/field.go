package metadata

type Field struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Default   any      `json:"default,omitempty"`
	Nullable  bool     `json:"nullable,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Auto      string   `json:"auto,omitempty"` // "create" or "update"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// AllowsValue checks an enum-constrained field against a candidate value.
// Fields without an enum allow everything.
func (f Field) AllowsValue(v any) bool {
	if len(f.Enum) == 0 {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, allowed := range f.Enum {
		if s == allowed {
			return true
		}
	}
	return false
}
