package fatdisk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWithMessageKeepsIdentity(t *testing.T) {
	err := ErrPath.WithMessage("no entry named boot.cfg")
	assert.ErrorIs(t, err, ErrPath)
	assert.Contains(t, err.Error(), "boot.cfg")
}

func TestErrorWrapKeepsBothIdentities(t *testing.T) {
	cause := fmt.Errorf("sd card timed out")
	err := ErrIO.WrapError(cause)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, cause)
}

func TestErrorConstantsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrPath, ErrNoVolume))
	assert.False(t, errors.Is(ErrIO.WithMessage("x"), ErrCorrupted))
}
