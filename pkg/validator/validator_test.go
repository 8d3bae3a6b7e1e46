package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email string `validate:"required,email"`
	Min   int    `validate:"gte=1"`
}

func TestValidate(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(sample{Email: "a@example.com", Min: 1}))

	err := v.Validate(sample{Email: "nope", Min: 0})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "Email must be a valid email")
		assert.Contains(t, err.Error(), "Min must be >= 1")
	}
}

func TestValidateField(t *testing.T) {
	v := New()

	assert.NoError(t, v.ValidateField("password", "longenough", "min=8", "max=72"))

	err := v.ValidateField("password", "short", "min=8", "max=72")
	assert.EqualError(t, err, "password must be at least 8 characters long")
}
