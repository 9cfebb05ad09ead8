package research

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ashureev/salesbot/internal/research"

var tracer = otel.Tracer(scopeName)
