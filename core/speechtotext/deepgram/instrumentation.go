package deepgram

import (
	"github.com/koscakluka/ema-gateway/internal/telemetry"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-gateway/core/speechtotext/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = telemetry.Logger(scopeName)
)
