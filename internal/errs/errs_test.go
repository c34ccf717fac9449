package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Collects(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.OrNil())

	v.Add(errors.New("name is required"))
	v.Addf("%s is required", "phone")

	err := v.OrNil()
	assert.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "phone is required")
}

func TestStore_KeepsTypedErrors(t *testing.T) {
	assert.NoError(t, Store("op", nil))

	nf := NotFound("ticket", "abc")
	assert.Same(t, nf, Store("op", nf))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", nf)))

	base := errors.New("disk full")
	err := Store("enroll", base)
	var se *StoreError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "enroll", se.Op)
	assert.ErrorIs(t, err, base)
}
