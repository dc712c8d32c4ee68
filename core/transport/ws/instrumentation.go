package ws

import (
	"github.com/koscakluka/ema-gateway/internal/telemetry"
)

const scopeName = "github.com/koscakluka/ema-gateway/core/transport/ws"

var logger = telemetry.Logger(scopeName)
