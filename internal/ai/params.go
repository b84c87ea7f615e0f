package ai

// GenerationParams holds sampling parameters for a single completion call.
// Pointers distinguish "not set" from zero values.
type GenerationParams struct {
	Temperature   *float64
	TopK          *int
	TopP          *float64
	RepeatPenalty *float64
	MaxTokens     *int
}

func float64Ptr(f float64) *float64 { return &f }
func intPtr(i int) *int             { return &i }

// ContinuationParams favors diversity for free-running story prose.
var ContinuationParams = GenerationParams{
	Temperature:   float64Ptr(0.9),
	TopK:          intPtr(40),
	TopP:          float64Ptr(0.95),
	RepeatPenalty: float64Ptr(1.3),
	MaxTokens:     intPtr(160),
}

// ChoiceParams trades diversity for parseability when the model is asked
// for structured JSON output.
var ChoiceParams = GenerationParams{
	Temperature:   float64Ptr(0.6),
	TopK:          intPtr(20),
	TopP:          float64Ptr(0.8),
	RepeatPenalty: float64Ptr(1.2),
	MaxTokens:     intPtr(200),
}

// SummaryParams keeps re-summarization terse and deterministic-ish.
var SummaryParams = GenerationParams{
	Temperature:   float64Ptr(0.5),
	TopK:          intPtr(30),
	TopP:          float64Ptr(0.9),
	RepeatPenalty: float64Ptr(1.1),
	MaxTokens:     intPtr(120),
}

// SelfTestParams is the cheapest possible generation used to validate a
// freshly loaded model.
var SelfTestParams = GenerationParams{
	Temperature: float64Ptr(0.1),
	MaxTokens:   intPtr(8),
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
