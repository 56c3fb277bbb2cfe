package types

// AnalysisResult is the code-analysis record models are asked to produce
type AnalysisResult struct {
	Grade        string          `json:"grade"`
	Coverage     int             `json:"coverage"`
	TestsPresent bool            `json:"testsPresent"`
	Value        string          `json:"value"`
	State        string          `json:"state"`
	Issues       []AnalysisIssue `json:"issues"`
	Suggestions  []string        `json:"suggestions"`
	Summary      string          `json:"summary"`
}

// AnalysisIssue is a single finding inside an AnalysisResult
type AnalysisIssue struct {
	Type        string `json:"type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// Closed value sets of the analysis enumerations
var (
	Grades      = []string{"A", "B", "C", "D", "E", "F"}
	ValueLevels = []string{"high", "medium", "low"}
	States      = []string{"pass", "warning", "fail"}
)

// Field names of the analysis record
const (
	FieldGrade        = "grade"
	FieldCoverage     = "coverage"
	FieldTestsPresent = "testsPresent"
	FieldValue        = "value"
	FieldState        = "state"
	FieldIssues       = "issues"
	FieldSuggestions  = "suggestions"
	FieldSummary      = "summary"
)

// AnalysisSchemaName is the registry name of AnalysisSchema
const AnalysisSchemaName = "code_analysis"

// AnalysisSchema describes AnalysisResult as a Shape
func AnalysisSchema() *Schema {
	zero, hundred := 0.0, 100.0
	return &Schema{
		Title: AnalysisSchemaName,
		Type:  "object",
		Properties: map[string]*Schema{
			FieldGrade:        {Type: "string", Enum: Grades},
			FieldCoverage:     {Type: "integer", Minimum: &zero, Maximum: &hundred},
			FieldTestsPresent: {Type: "boolean"},
			FieldValue:        {Type: "string", Enum: ValueLevels},
			FieldState:        {Type: "string", Enum: States},
			FieldIssues: {
				Type: "array",
				Items: &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"type":        {Type: "string"},
						"severity":    {Type: "string"},
						"description": {Type: "string"},
						"file":        {Type: "string"},
						"line":        {Type: "integer"},
					},
					Required: []string{"description"},
				},
			},
			FieldSuggestions: {Type: "array", Items: &Schema{Type: "string"}},
			FieldSummary:     {Type: "string"},
		},
		Required: []string{
			FieldGrade, FieldCoverage, FieldTestsPresent, FieldValue,
			FieldState, FieldIssues, FieldSuggestions, FieldSummary,
		},
	}
}
