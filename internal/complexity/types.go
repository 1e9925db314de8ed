// Package complexity computes cyclomatic and cognitive complexity for the
// functions of a parsed Swift syntax tree.
package complexity

// ComplexityResult contains complexity metrics for a single unit (function/method).
type ComplexityResult struct {
	// Name is the function/method name
	Name string `json:"name" yaml:"name"`

	// Kind is the syntax kind of the function node
	Kind string `json:"kind" yaml:"kind"`

	// StartLine is the line number where the function starts
	StartLine int `json:"startLine" yaml:"startLine"`

	// EndLine is the line number where the function ends
	EndLine int `json:"endLine" yaml:"endLine"`

	// Cyclomatic is the cyclomatic complexity (decision points + 1)
	Cyclomatic int `json:"cyclomatic" yaml:"cyclomatic"`

	// Cognitive is the cognitive complexity (nested depth weighted)
	Cognitive int `json:"cognitive" yaml:"cognitive"`

	// Lines is the number of lines in the function
	Lines int `json:"lines" yaml:"lines"`
}

// Rating buckets a cyclomatic score the way the overlay colors it.
func (r ComplexityResult) Rating() string {
	switch {
	case r.Cyclomatic <= 5:
		return "low"
	case r.Cyclomatic <= 10:
		return "moderate"
	case r.Cyclomatic <= 20:
		return "high"
	}
	return "very high"
}

// FileComplexity contains complexity metrics for an entire document.
type FileComplexity struct {
	Path      string             `json:"path,omitempty" yaml:"path,omitempty"`
	Functions []ComplexityResult `json:"functions" yaml:"functions"`

	TotalCyclomatic   int     `json:"totalCyclomatic" yaml:"totalCyclomatic"`
	TotalCognitive    int     `json:"totalCognitive" yaml:"totalCognitive"`
	AverageCyclomatic float64 `json:"averageCyclomatic" yaml:"averageCyclomatic"`
	AverageCognitive  float64 `json:"averageCognitive" yaml:"averageCognitive"`
	MaxCyclomatic     int     `json:"maxCyclomatic" yaml:"maxCyclomatic"`
	MaxCognitive      int     `json:"maxCognitive" yaml:"maxCognitive"`
	FunctionCount     int     `json:"functionCount" yaml:"functionCount"`
}

// Aggregate computes aggregate metrics from function results.
func (fc *FileComplexity) Aggregate() {
	fc.FunctionCount = len(fc.Functions)
	fc.TotalCyclomatic, fc.TotalCognitive = 0, 0
	fc.MaxCyclomatic, fc.MaxCognitive = 0, 0
	if fc.FunctionCount == 0 {
		return
	}

	for _, f := range fc.Functions {
		fc.TotalCyclomatic += f.Cyclomatic
		fc.TotalCognitive += f.Cognitive

		if f.Cyclomatic > fc.MaxCyclomatic {
			fc.MaxCyclomatic = f.Cyclomatic
		}
		if f.Cognitive > fc.MaxCognitive {
			fc.MaxCognitive = f.Cognitive
		}
	}

	fc.AverageCyclomatic = float64(fc.TotalCyclomatic) / float64(fc.FunctionCount)
	fc.AverageCognitive = float64(fc.TotalCognitive) / float64(fc.FunctionCount)
}
