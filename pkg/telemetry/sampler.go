package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/sdk/trace"
)

var samplers = map[string]func(ratio float64) trace.Sampler{
	"always_on":                func(float64) trace.Sampler { return trace.AlwaysSample() },
	"always_off":               func(float64) trace.Sampler { return trace.NeverSample() },
	"traceidratio":             trace.TraceIDRatioBased,
	"parentbased_always_on":    func(float64) trace.Sampler { return trace.ParentBased(trace.AlwaysSample()) },
	"parentbased_always_off":   func(float64) trace.Sampler { return trace.ParentBased(trace.NeverSample()) },
	"parentbased_traceidratio": func(r float64) trace.Sampler { return trace.ParentBased(trace.TraceIDRatioBased(r)) },
}

// createSampler maps the configured sampler name to an sdk Sampler.
// Unknown or empty names sample everything. Spans whose names start with
// one of cfg.AlwaysSample bypass the configured sampler.
func createSampler(cfg *Config) trace.Sampler {
	base := trace.AlwaysSample()
	if mk, ok := samplers[cfg.Sampler]; ok {
		base = mk(parseRatio(cfg.SamplerArg))
	}
	if len(cfg.AlwaysSample) == 0 {
		return base
	}
	return &prefixSampler{prefixes: cfg.AlwaysSample, base: base}
}

// prefixSampler records every span named with one of prefixes and defers
// to base for the rest. Resolution traffic is high volume while
// redefinitions are rare.
type prefixSampler struct {
	prefixes []string
	base     trace.Sampler
}

func (s *prefixSampler) ShouldSample(p trace.SamplingParameters) trace.SamplingResult {
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(p.Name, prefix) {
			return trace.AlwaysSample().ShouldSample(p)
		}
	}
	return s.base.ShouldSample(p)
}

func (s *prefixSampler) Description() string {
	return fmt.Sprintf("AlwaysSample{%s}+%s", strings.Join(s.prefixes, ","), s.base.Description())
}

// parseRatio parses a sampling ratio clamped to [0, 1]; unparsable input is 1.
func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1
	}
	return min(max(ratio, 0), 1)
}
