package repositories

import (
	"errors"

	"gorm.io/gorm"
)

// IsNotFoundError reports whether an error from any repository means the
// record does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
