package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"capture-scheduler/internal/storage"
)

// ValidationPolicy holds the structural acceptance rules applied to a
// persisted artifact before it is considered usable.
type ValidationPolicy struct {
	MinBytes  int64
	MinWidth  int
	MinHeight int
}

// DefaultValidationPolicy mirrors the production thresholds: at least 1KB and
// 100x100 pixels.
func DefaultValidationPolicy() ValidationPolicy {
	return ValidationPolicy{MinBytes: 1000, MinWidth: 100, MinHeight: 100}
}

// ValidationResult describes the outcome of one validation pass. Rule names
// the first rule that rejected the artifact.
type ValidationResult struct {
	OK     bool   `json:"ok"`
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

// Validate checks the artifact bytes and its locator against the policy.
func (p ValidationPolicy) Validate(data []byte, loc storage.Locator) ValidationResult {
	if loc.Backend == "" || loc.Key == "" {
		return ValidationResult{
			Rule:   "locator_fields",
			Detail: "locator is missing backend or key",
		}
	}
	if int64(len(data)) < p.MinBytes {
		return ValidationResult{
			Rule:   "min_bytes",
			Detail: fmt.Sprintf("artifact is %d bytes, need at least %d", len(data), p.MinBytes),
		}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ValidationResult{
			Rule:   "decodable_image",
			Detail: fmt.Sprintf("not a decodable image: %v", err),
		}
	}
	if cfg.Width < p.MinWidth || cfg.Height < p.MinHeight {
		return ValidationResult{
			Rule:   "min_dimensions",
			Detail: fmt.Sprintf("image is %dx%d, need at least %dx%d", cfg.Width, cfg.Height, p.MinWidth, p.MinHeight),
			Width:  cfg.Width,
			Height: cfg.Height,
			Format: format,
		}
	}

	return ValidationResult{OK: true, Width: cfg.Width, Height: cfg.Height, Format: format}
}
