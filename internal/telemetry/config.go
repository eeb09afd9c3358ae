package telemetry

// Config holds the OpenTelemetry tracing settings each cmd/* binary loads
// from the trace_enabled/trace_endpoint/trace_sample keys of its own
// configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string // OTLP/gRPC collector address, e.g. "localhost:4317"
	Insecure       bool
	SampleRate     float64 // 0.0..1.0
}

func DefaultConfig(serviceName string) Config {
	return Config{
		Enabled:        false,
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
