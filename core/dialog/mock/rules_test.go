package mock

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondMatchesKeywords(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "order", text: "I would like to place one last order", expected: "place_order"},
		{name: "status wins over order", text: "What is the status of my order?", expected: "check_order_status"},
		{name: "case insensitive", text: "Is it going to RAIN", expected: "query_weather"},
		{name: "greeting at start", text: "hi there", expected: "greeting"},
	}

	client := NewClient()
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			rule, ok := client.Match(testCase.text)
			require.True(t, ok)
			assert.Equal(t, testCase.expected, rule.Intent)

			reply, err := client.Respond(context.Background(), speechtotext.Transcript{Text: testCase.text})
			require.NoError(t, err)
			assert.Equal(t, rule.Reply, reply.Text)
			assert.Nil(t, reply.AudioRef)
		})
	}
}

func TestRespondFallsBack(t *testing.T) {
	reply, err := NewClient(WithFallback("pardon?")).Respond(context.Background(), speechtotext.Transcript{Text: "xylophone"})
	require.NoError(t, err)
	assert.Equal(t, "pardon?", reply.Text)
}

func TestRespondHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(WithDelay(time.Minute)).Respond(ctx, speechtotext.Transcript{Text: "order"})
	assert.ErrorIs(t, err, context.Canceled)
}
