package extraction

import (
	"strings"

	"github.com/jonathan/onboarding-verifier/internal/types"
)

const (
	confidenceFloor     = 0.2
	expectedWeight      = 0.6
	rawTextWeight       = 0.15
	optionalFieldWeight = 0.05
)

// EstimateConfidence derives a confidence in [0,1] when the model does not supply one.
// It never decreases as more expected fields are found or when raw text is present.
func EstimateConfidence(spec types.KindSpec, fields map[string]string, rawText string) float64 {
	var expected, expectedFound, optional, optionalFound int
	for _, f := range spec.Fields {
		found := strings.TrimSpace(fields[f.Name]) != ""
		if f.Missing == types.MissingIgnored {
			optional++
			if found {
				optionalFound++
			}
			continue
		}
		expected++
		if found {
			expectedFound++
		}
	}

	score := confidenceFloor
	if expected > 0 {
		score += expectedWeight * float64(expectedFound) / float64(expected)
	} else {
		score += expectedWeight
	}
	if optional > 0 {
		score += optionalFieldWeight * float64(optionalFound) / float64(optional)
	} else {
		score += optionalFieldWeight
	}
	if strings.TrimSpace(rawText) != "" {
		score += rawTextWeight
	}

	if score > 1 {
		return 1
	}
	return score
}
