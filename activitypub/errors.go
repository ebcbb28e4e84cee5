package activitypub

import "errors"

var (
	// ErrInvalidSignature rejects an inbound request. It is the only error
	// that reaches the remote sender.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnresolvableActor means an actor document could not be fetched or
	// declares no inbox. Deliveries hitting it are queued for later.
	ErrUnresolvableActor = errors.New("unresolvable actor")

	ErrUnknownActivityType = errors.New("unknown activity type")

	// ErrDeliveryFailure wraps a failed POST to a single inbox.
	ErrDeliveryFailure = errors.New("delivery failed")
)
