package endpoint

// Descriptor provides metadata about an endpoint type.
// Family is the key the planner's strategy registry dispatches on.
type Descriptor struct {
	ID          string
	Family      string // "jdbc", "tracker", "space", "drive"
	Title       string
	Vendor      string
	Description string
	Categories  []string
	Protocols   []string
	DocsURL     string
	Fields      []*FieldDescriptor
}

// FieldDescriptor defines a configuration field.
type FieldDescriptor struct {
	Key         string
	Label       string
	ValueType   string // "string", "integer", "boolean", "password"
	Required    bool
	Semantic    string // "GENERIC", "HOST", "PORT", "PASSWORD"
	Description string
	Placeholder string
	Sensitive   bool
}

// Capabilities declares the operations an endpoint supports.
type Capabilities struct {
	SupportsFull        bool
	SupportsIncremental bool
	SupportsCountProbe  bool
	SupportsPreview     bool

	// Incremental details
	IncrementalLiteral string // "timestamp" | "epoch"
	DefaultFetchSize   int
}

// ValidationResult reports the outcome of a configuration check.
type ValidationResult struct {
	Valid           bool
	Message         string
	DetectedVersion string
}
