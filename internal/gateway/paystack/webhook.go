package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

// ErrInvalidSignature is returned for webhooks not signed with the secret key.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the signature of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (payment.Event, error) {
	var (
		ev     payment.Event
		charge payment.Charge
	)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			s, err := d.Str()
			ev.Type = payment.EventType(s)
			return err
		case "data":
			return decodeCharge(d, &charge)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return ev, errors.Wrap(err, "decode event")
	}
	if ev.Type == "" || charge.Reference == "" {
		return ev, errors.New("event type and reference required")
	}
	ev.Reference = charge.Reference
	ev.Amount = charge.Amount
	ev.Currency = charge.Currency
	return ev, nil
}
