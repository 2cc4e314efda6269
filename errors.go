package mapres

import "errors"

// Engine errors.
var (
	// ErrClosed is returned when using an engine after Close.
	ErrClosed = errors.New("mapres: engine closed")

	// ErrNilProvider is returned when a binding has no provider.
	ErrNilProvider = errors.New("mapres: nil provider")

	// ErrProviderKind is returned when a provider does not implement the
	// interface required by its resource kind.
	ErrProviderKind = errors.New("mapres: provider does not serve resource kind")

	// ErrInvalidKind is returned for resource kinds outside the declared set.
	ErrInvalidKind = errors.New("mapres: invalid resource kind")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("mapres: invalid config")

	// errNoPayload is used to break promises for objects a provider accepted
	// but produced no symbols for.
	errNoPayload = errors.New("mapres: provider produced no symbols for accepted object")
)
