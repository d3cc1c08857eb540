package webhook

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateEndpoints checks endpoint definitions without building a server.
func ValidateEndpoints(eps []EndpointConfig) error {
	_, err := compile(eps)
	return err
}

func compile(eps []EndpointConfig) (map[string]*endpoint, error) {
	out := make(map[string]*endpoint, len(eps))
	for _, ep := range eps {
		if !strings.HasPrefix(ep.Path, "/") {
			return nil, fmt.Errorf("webhook endpoint %q: path must start with /", ep.Path)
		}
		if _, dup := out[ep.Path]; dup {
			return nil, fmt.Errorf("webhook endpoint %q: duplicate path", ep.Path)
		}
		if ep.Provider == "" {
			return nil, fmt.Errorf("webhook endpoint %q: provider is required", ep.Path)
		}
		if ep.Secret == "" {
			return nil, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return nil, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		out[ep.Path] = &endpoint{
			path:            ep.Path,
			provider:        ep.Provider,
			secret:          ep.Secret,
			signatureHeader: header,
			maxBodySize:     maxBodySize,
		}
	}
	return out, nil
}

// parseMaxBodySize parses size strings like "64KB", "1MB" or "2048576".
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
