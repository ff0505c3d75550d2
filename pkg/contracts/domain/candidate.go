package domain

// Engine names used as CandidateSet.EngineName and Security.SourceEngine.
const (
	EngineTable    = "table"
	EngineWindow   = "window"
	EngineAssisted = "assisted"
)

// CandidateSet is the output of one extraction strategy for one document:
// the proposed securities plus an engine-level trust score. It exists only
// between extraction and fusion.
type CandidateSet struct {
	EngineName       string     `json:"engine_name"`
	EngineConfidence float64    `json:"engine_confidence"`
	Securities       []Security `json:"securities"`
}

// TableCell is one cell of an engine-supplied table grid.
type TableCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
}

// Table is a grid of cells as returned by a structured extraction engine.
type Table struct {
	Cells []TableCell `json:"cells"`
}

// EngineResult is the collaborator contract for an external extraction
// engine: raw text, optional table structures, and the engine's own
// confidence if it reports one. The core never inspects engine internals
// beyond this shape.
type EngineResult struct {
	Text             string   `json:"text"`
	Tables           []Table  `json:"tables,omitempty"`
	EngineConfidence *float64 `json:"engineConfidence,omitempty"`
}
