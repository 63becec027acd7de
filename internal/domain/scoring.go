package domain

// ScoringResult is the final multi-axis score, computed once at finish.
type ScoringResult struct {
	Correctness   float64 `json:"correctness"`
	Optimality    float64 `json:"optimality"`
	Style         float64 `json:"style"`
	Communication float64 `json:"communication"`
	Speed         float64 `json:"speed"`
	Overall       float64 `json:"overall"`
	Letter        string  `json:"letter"`
}
