package webfront

import "github.com/google/uuid"

// newDeviceID mints the opaque device identifier assigned on first
// contact and carried by every subsequent authentication.
func newDeviceID() string {
	return uuid.NewString()
}
