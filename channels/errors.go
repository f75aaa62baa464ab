package channels

import (
	"errors"
	"fmt"
)

// ErrUnknownPlatform is wrapped by Build when a spec names a platform no
// factory is registered for.
var ErrUnknownPlatform = errors.New("channels: unknown platform")

// DeliveryError reports a digest one destination did not accept.
type DeliveryError struct {
	Channel  string
	Platform string
	// Status is the HTTP status the destination answered with, 0 when the
	// request never got a response.
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channels: %s/%s: status %d: %v", e.Platform, e.Channel, e.Status, e.Err)
	}
	return fmt.Sprintf("channels: %s/%s: %v", e.Platform, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// statusError is what postJSON returns for a 4xx/5xx answer.
type statusError struct {
	code    int
	excerpt string
}

func (e *statusError) Error() string { return e.excerpt }

func undelivered(channel, platform string, err error) *DeliveryError {
	de := &DeliveryError{Channel: channel, Platform: platform, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		de.Status = se.code
	}
	return de
}
