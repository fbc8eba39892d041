package robinhood

import "github.com/google/uuid"

// GenerateDeviceToken returns a new device identity in canonical UUID form,
// drawn from a cryptographically secure random source. Robinhood keys its
// device-approval challenges on this value: it is generated once per
// installation and presented on every subsequent login, so a recognised
// device is not re-challenged.
func GenerateDeviceToken() string {
	return uuid.NewString()
}
