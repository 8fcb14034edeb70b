package fault

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"validation", Validation("price for line %d", 2), ErrValidation},
		{"not found", NotFound("order %d", 7), ErrNotFound},
		{"conflict", Conflict("order already paid"), ErrConflict},
		{"gateway", Gateway(errors.New("dial tcp: timeout"), "verify charge"), ErrGateway},
	}
	kinds := []error{ErrValidation, ErrNotFound, ErrConflict, ErrGateway}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			for _, k := range kinds {
				assert.Equal(t, k == tt.kind, errors.Is(wrapped, k), "kind %v", k)
			}
		})
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "price for line 2", Reason(errors.Wrap(Validation("price for line %d", 2), "validate")))
	assert.Equal(t, "internal error", Reason(errors.New("boom")))
	assert.Equal(t, "verify charge: dial", Gateway(errors.New("dial"), "verify charge").Error())
}
