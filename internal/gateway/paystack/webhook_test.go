package paystack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("sk_test")
	body := []byte(`{"event":"charge.success","data":{"reference":"ORD-1"}}`)

	tests := []struct {
		name      string
		secret    []byte
		signature string
		ok        bool
	}{
		{"valid", secret, Sign(secret, body), true},
		{"other secret", secret, Sign([]byte("sk_other"), body), false},
		{"not hex", secret, "zz", false},
		{"empty signature", secret, "", false},
		{"empty secret", nil, Sign(nil, body), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.signature)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			}
		})
	}

	assert.ErrorIs(t, VerifySignature(secret, append(body, ' '), Sign(secret, body)), ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"charge.success","data":{"id":9,"status":"success","reference":"DF-42-1700000000000","amount":750000,"currency":"USD","metadata":{"order_id":"42"}}}`))
	require.NoError(t, err)
	assert.Equal(t, payment.EventChargeSuccess, ev.Type)
	assert.Equal(t, "DF-42-1700000000000", ev.Reference)
	assert.Equal(t, int64(750000), ev.Amount)
	assert.Equal(t, "USD", ev.Currency)

	_, err = ParseEvent([]byte(`{"event":"charge.success","data":{}}`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
