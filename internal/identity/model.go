package identity

import (
	"errors"
	"time"
)

var (
	ErrUserExists         = errors.New("identity: user already exists")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrWeakPIN            = errors.New("identity: PIN must be 4 to 12 digits")
	ErrDeviceRequired     = errors.New("identity: device binding required")
	ErrDeviceMismatch     = errors.New("identity: device mismatch")
)

// User represents a registered wallet owner.
type User struct {
	ID        string
	Phone     string
	Tier      string
	PINHash   []byte
	DeviceID  string
	CreatedAt time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}
