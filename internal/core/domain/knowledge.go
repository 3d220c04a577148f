package domain

// KnowledgeDomain describes one legal knowledge area served by a specialized
// agent. Keywords are documentation for operators only and never reach the
// routing prompt.
type KnowledgeDomain struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}
