// Package paystack is a client for a Paystack-compatible payment provider:
// charge initialization, verification and webhook authentication.
package paystack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
)

var _ payment.Gateway = (*Client)(nil)

// Client calls the provider's transaction API.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a Client authenticated with the secret key.
func New(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitializeCharge implements payment.Gateway.
func (c *Client) InitializeCharge(ctx context.Context, req payment.InitRequest) (*payment.Authorization, error) {
	var e jx.Encoder
	e.ObjStart()
	e.Field("email", func(e *jx.Encoder) { e.Str(req.Email) })
	e.Field("amount", func(e *jx.Encoder) { e.Int64(req.Amount) })
	e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
	e.Field("reference", func(e *jx.Encoder) { e.Str(req.Reference) })
	if req.CallbackURL != "" {
		e.Field("callback_url", func(e *jx.Encoder) { e.Str(req.CallbackURL) })
	}
	if len(req.Metadata) > 0 {
		e.Field("metadata", func(e *jx.Encoder) {
			e.ObjStart()
			for k, v := range req.Metadata {
				e.Field(k, func(e *jx.Encoder) { e.Str(v) })
			}
			e.ObjEnd()
		})
	}
	e.ObjEnd()

	auth := &payment.Authorization{Reference: req.Reference}
	err := c.do(ctx, http.MethodPost, "/transaction/initialize", e.Bytes(), func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "authorization_url":
				auth.AuthorizationURL, err = d.Str()
			case "access_code":
				auth.AccessCode, err = d.Str()
			case "reference":
				auth.Reference, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// VerifyCharge implements payment.Gateway.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*payment.Charge, error) {
	charge := &payment.Charge{Reference: reference}
	err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, func(d *jx.Decoder) error {
		return decodeCharge(d, charge)
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

// do performs an API call and hands the "data" member of the envelope to decodeData.
func (c *Client) do(ctx context.Context, method, path string, body []byte, decodeData func(*jx.Decoder) error) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fault.Gateway(err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fault.Gateway(err, "read response")
	}

	ok, message, err := decodeEnvelope(raw, decodeData)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fault.NotFound("charge not found: %s", message)
	case resp.StatusCode >= 500:
		return fault.Gateway(errors.Errorf("status %d: %s", resp.StatusCode, message), "provider error")
	case resp.StatusCode >= 400:
		return fault.Gateway(errors.Errorf("status %d: %s", resp.StatusCode, message), "provider rejected request")
	case err != nil:
		return fault.Gateway(err, "decode response")
	case !ok:
		return fault.Gateway(errors.New(message), "provider rejected request")
	}
	return nil
}

func decodeEnvelope(raw []byte, decodeData func(*jx.Decoder) error) (ok bool, message string, err error) {
	d := jx.DecodeBytes(raw)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			ok, err = d.Bool()
		case "message":
			message, err = d.Str()
		case "data":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = decodeData(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return ok, message, err
}

func decodeCharge(d *jx.Decoder, charge *payment.Charge) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "reference":
			charge.Reference, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			charge.Status = chargeStatus(s)
		case "amount":
			charge.Amount, err = d.Int64()
		case "currency":
			charge.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func chargeStatus(s string) payment.ChargeStatus {
	switch s {
	case "success":
		return payment.ChargeSuccess
	case "failed", "reversed":
		return payment.ChargeFailed
	case "abandoned":
		return payment.ChargeAbandoned
	default:
		return payment.ChargePending
	}
}
