package gateway

import (
	"github.com/koscakluka/ema-gateway/internal/telemetry"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-gateway/core/gateway"

var (
	tracer = otel.Tracer(scopeName)
	logger = telemetry.Logger(scopeName)
)
