// Package telemetry provides OpenTelemetry tracing for the linker services.
package telemetry

import (
	"os"
	"strings"
)

// Config holds OpenTelemetry configuration. It is normally populated from the
// "telemetry" section of the application config and then overlaid with the
// standard OTEL_* environment variables.
type Config struct {
	Enabled        bool              `mapstructure:"enabled"`
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Endpoint       string            `mapstructure:"endpoint"`
	Protocol       string            `mapstructure:"protocol"` // grpc or http/protobuf
	Headers        map[string]string `mapstructure:"headers"`
	Insecure       bool              `mapstructure:"insecure"`
	// Sampler is one of always_on, always_off, traceidratio,
	// parentbased_always_on, parentbased_always_off, parentbased_traceidratio.
	Sampler       string            `mapstructure:"sampler"`
	SamplerArg    string            `mapstructure:"sampler_arg"`
	ResourceAttrs map[string]string `mapstructure:"resource_attrs"`
	// AlwaysSample lists span name prefixes recorded regardless of Sampler.
	AlwaysSample []string `mapstructure:"always_sample"`
}

// DefaultConfig returns a disabled configuration with defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "klasslink",
		ServiceVersion: "unknown",
		Protocol:       "grpc",
		Headers:        map[string]string{},
		ResourceAttrs:  map[string]string{},
		AlwaysSample:   []string{"redefine."},
	}
}

// ApplyEnv overlays OTEL_* environment variables that are set.
func (c *Config) ApplyEnv() *Config {
	if v, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		c.Enabled = strings.EqualFold(v, "true")
	}
	setIfPresent(&c.ServiceName, "OTEL_SERVICE_NAME")
	setIfPresent(&c.ServiceVersion, "OTEL_SERVICE_VERSION")
	setIfPresent(&c.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setIfPresent(&c.Protocol, "OTEL_EXPORTER_OTLP_PROTOCOL")
	setIfPresent(&c.Sampler, "OTEL_TRACES_SAMPLER")
	setIfPresent(&c.SamplerArg, "OTEL_TRACES_SAMPLER_ARG")
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		c.Insecure = strings.EqualFold(v, "true")
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	for k, v := range parseKeyValuePairs(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")) {
		c.Headers[k] = v
	}
	if c.ResourceAttrs == nil {
		c.ResourceAttrs = map[string]string{}
	}
	for k, v := range parseKeyValuePairs(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")) {
		c.ResourceAttrs[k] = v
	}
	return c
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// parseKeyValuePairs parses "key1=value1,key2=value2". Only the first '='
// splits a pair.
func parseKeyValuePairs(s string) map[string]string {
	result := make(map[string]string)
	if s == "" {
		return result
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(pair[:idx])
		if key != "" {
			result[key] = strings.TrimSpace(pair[idx+1:])
		}
	}
	return result
}
