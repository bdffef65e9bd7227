package auth

import (
	"fmt"
	"time"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// ErrInvalidCredentials covers unknown accounts, wrong passwords and
// deactivated users alike, so a caller cannot tell which one it was.
var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)

// User is an account row from the users table.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
