//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLivez(t *testing.T) {
	resp := do(t, http.MethodGet, "/livez", nil)
	requireStatus(t, resp, http.StatusOK)
	require.Equal(t, "ok", decodeJSON[healthResponse](t, resp).Status)
}

func TestReadyz(t *testing.T) {
	resp := do(t, http.MethodGet, "/readyz", nil)
	requireStatus(t, resp, http.StatusOK)

	body := decodeJSON[healthResponse](t, resp)
	require.Equal(t, "ok", body.Status)
	require.Empty(t, body.Failures)
}
