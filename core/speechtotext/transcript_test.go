package speechtotext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		transcript Transcript
		expected   error
	}{
		{name: "empty", transcript: Transcript{Text: "", Confidence: 1}, expected: ErrNoSpeech},
		{name: "too short", transcript: Transcript{Text: " uh ", Confidence: 1}, expected: ErrNoSpeech},
		{name: "short multibyte", transcript: Transcript{Text: "đơn", Confidence: 1}, expected: ErrNoSpeech},
		{name: "low confidence", transcript: Transcript{Text: "place an order", Confidence: 0.4}, expected: ErrLowConfidence},
		{name: "accepted", transcript: Transcript{Text: "place an order", Confidence: 0.7}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := Classify(testCase.transcript, DefaultMinConfidence)
			if testCase.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, testCase.expected)
		})
	}
}

func TestClassifyTreatsNoSpeechBeforeConfidence(t *testing.T) {
	assert.ErrorIs(t, Classify(Transcript{Text: "a", Confidence: 0}, DefaultMinConfidence), ErrNoSpeech)
}
