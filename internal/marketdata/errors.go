package marketdata

import "errors"

var (
	// ErrQuoteUnavailable is returned when the provider errors out or does
	// not recognize the ticker. Potentially transient; the core never
	// retries on its own.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrProviderTimeout is returned when a provider call exceeds the
	// configured deadline.
	ErrProviderTimeout = errors.New("price provider timed out")
)
