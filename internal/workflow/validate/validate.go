// Package validate enforces the remote pipeline's input contract before
// any network call is attempted. It has no side effects and no network
// access; re-running a validation always produces the same answer.
package validate

import (
	"strings"

	apperrors "valueprop-client/internal/common/errors"
	"valueprop-client/internal/models"
)

// MinContentLength is the minimum trimmed content length the backend accepts.
const MinContentLength = 10

// RawInput validates candidate content and optional metadata and returns
// a constructed RawInput ready for submission. The content is kept as
// given; only the length check trims.
func RawInput(content, source, customerID string, metadata map[string]string) (models.RawInput, error) {
	if len(strings.TrimSpace(content)) < MinContentLength {
		return models.RawInput{}, apperrors.NewContentTooShort(MinContentLength)
	}
	if source == "" {
		source = models.DefaultSource
	}
	in := models.RawInput{
		Content:    content,
		Source:     source,
		CustomerID: customerID,
		Metadata:   metadata,
	}
	return in.Clone(), nil
}

// RunConfig re-validates execution parameters. The UI clamps these with
// bounded controls, but values are checked again before sending.
func RunConfig(cfg models.RunConfig) error {
	if !cfg.Provider.Valid() {
		return apperrors.NewInvalidProvider(string(cfg.Provider))
	}
	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		return apperrors.NewTemperatureOutOfRange(cfg.Temperature)
	}
	return nil
}

// ProviderSet validates the provider list for a comparison run: at least
// two providers, all valid, no duplicates.
func ProviderSet(providers []models.Provider) error {
	if len(providers) < 2 {
		return apperrors.NewProviderSetInvalid("a comparison run needs at least two providers")
	}
	seen := make(map[models.Provider]bool, len(providers))
	for _, p := range providers {
		if !p.Valid() {
			return apperrors.NewInvalidProvider(string(p))
		}
		if seen[p] {
			return apperrors.NewProviderSetInvalid("provider " + string(p) + " is listed twice")
		}
		seen[p] = true
	}
	return nil
}
