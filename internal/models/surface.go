package models

// SurfaceDefinition is one entry of the surfaces catalog.
type SurfaceDefinition struct {
	Kind        DraftKind `yaml:"kind" json:"kind"`
	SubKind     string    `yaml:"sub_kind" json:"sub_kind,omitempty"`
	DisplayName string    `yaml:"display_name" json:"display_name"`
	SortOrder   int64     `yaml:"sort_order" json:"sort_order"`
}

func (d SurfaceDefinition) SurfaceKey() string {
	if d.SubKind == "" {
		return string(d.Kind)
	}
	return string(d.Kind) + ":" + d.SubKind
}
