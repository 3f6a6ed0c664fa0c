package risk

import (
	"math"
	"regexp"
	"strconv"

	"mantleforge/internal/common"
)

var (
	riskScorePattern  = regexp.MustCompile(`(?i)risk score[:\s]+(\d+)`)
	confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([\d.]+)`)
)

// Analysis holds what could be read out of a free-form analysis text.
type Analysis struct {
	RiskScore  uint64
	Confidence float64
	// HasConfidence is false when no confidence statement was found.
	HasConfidence bool
}

// ParseAnalysis extracts a "risk score: N" statement from analysis text
// attached to a mint request. ok is false when the text carries no score.
func ParseAnalysis(text string) (analysis Analysis, ok bool) {
	m := riskScorePattern.FindStringSubmatch(text)
	if m == nil {
		return Analysis{}, false
	}

	score, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		// too many digits for uint64 is still "above the scale"
		score = common.MaxRiskScore
	}
	analysis.RiskScore = clampScore(score)

	if c := confidencePattern.FindStringSubmatch(text); c != nil {
		if f, err := strconv.ParseFloat(c[1], 64); err == nil {
			analysis.Confidence = clampConfidence(f)
			analysis.HasConfidence = true
		}
	}
	return analysis, true
}

func clampScore(score uint64) uint64 {
	if score > common.MaxRiskScore {
		return common.MaxRiskScore
	}
	return score
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
