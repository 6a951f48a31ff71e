package signals

import (
	"fmt"
	"math"
	"strings"
)

// MoodLabel is the coarse sentiment assigned by the keyword detector.
type MoodLabel string

const (
	MoodPositive MoodLabel = "positive"
	MoodNegative MoodLabel = "negative"
	MoodNeutral  MoodLabel = "neutral"
)

const (
	neutralConfidence = 0.6
	maxMoodConfidence = 0.9
	minKeywordRatio   = 0.05
)

var negativeKeywords = []string{
	"cancel", "refund", "scam", "sue", "not happy", "complain", "angry",
	"terrible", "awful", "hate", "disappointed", "frustrated", "upset",
	"wrong", "mistake", "error", "problem", "issue", "broken", "failed",
	"unacceptable", "ridiculous", "waste", "useless", "stupid",
}

var positiveKeywords = []string{
	"paid", "yes", "renew", "great", "excellent", "perfect", "love",
	"happy", "satisfied", "pleased", "thank", "good", "fine", "okay",
	"sure", "agree", "accept", "approve", "confirm", "continue",
}

// MoodResult captures the detector output. Reasons are informational only.
type MoodResult struct {
	Label      MoodLabel `json:"label"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
}

// AnalyzeMood classifies the transcript using keyword density.
func AnalyzeMood(transcript string) MoodResult {
	lower := strings.ToLower(transcript)

	negativeCount := countKeywords(lower, negativeKeywords)
	positiveCount := countKeywords(lower, positiveKeywords)

	totalWords := len(strings.Fields(transcript))
	if totalWords < 1 {
		totalWords = 1
	}
	negativeRatio := float64(negativeCount) / float64(totalWords)
	positiveRatio := float64(positiveCount) / float64(totalWords)

	switch {
	case negativeCount > positiveCount && negativeRatio > minKeywordRatio:
		return MoodResult{
			Label:      MoodNegative,
			Confidence: densityConfidence(negativeRatio),
			Reasons: []string{
				fmt.Sprintf("Found %d negative keywords", negativeCount),
				fmt.Sprintf("Negative ratio: %.3f", negativeRatio),
			},
		}
	case positiveCount > negativeCount && positiveRatio > minKeywordRatio:
		return MoodResult{
			Label:      MoodPositive,
			Confidence: densityConfidence(positiveRatio),
			Reasons: []string{
				fmt.Sprintf("Found %d positive keywords", positiveCount),
				fmt.Sprintf("Positive ratio: %.3f", positiveRatio),
			},
		}
	default:
		return MoodResult{
			Label:      MoodNeutral,
			Confidence: neutralConfidence,
			Reasons:    []string{"No strong positive or negative indicators found"},
		}
	}
}

// countKeywords counts every occurrence of every keyword, so repeats add up.
func countKeywords(lower string, keywords []string) int {
	total := 0
	for _, keyword := range keywords {
		total += strings.Count(lower, keyword)
	}
	return total
}

func containsAny(lower string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func densityConfidence(ratio float64) float64 {
	return round3(math.Min(maxMoodConfidence, 0.5+ratio*10))
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}
