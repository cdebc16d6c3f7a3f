package mqtt

import "errors"

// Domain-specific errors for broker operations.
var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the first connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrInvalidQoS is returned by Connect for a QoS outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidID is returned for a request ID or event type that cannot
	// be used as a single topic level.
	ErrInvalidID = errors.New("mqtt: invalid topic segment")

	// ErrPayloadTooLarge is returned for a payload over the broker limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrPublishFailed is returned when the broker does not acknowledge a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe is not acknowledged.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrAlreadyServing is returned by a second ServeRequests.
	ErrAlreadyServing = errors.New("mqtt: already serving requests")
)
