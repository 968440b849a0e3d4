package models

// Category is the static description of one ranking list within a source.
// Code must stay stable across days.
type Category struct {
	Code     string            `yaml:"code"`
	Name     string            `yaml:"name"`
	Label    string            `yaml:"label"`
	URL      string            `yaml:"url"`
	Navigate string            `yaml:"navigate"`
	Params   map[string]string `yaml:"params"`
}

// DisplayLabel is the category label stored on products. It falls back to
// the display name.
func (c Category) DisplayLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}
