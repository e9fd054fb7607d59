package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"too early", TooEarly(10, 20), ErrTooEarly, http.StatusConflict},
		{"insufficient", InsufficientData(5, 2), ErrInsufficientData, http.StatusUnprocessableEntity},
		{"allocation", AllocationTooClose(50, 48, 52), ErrAllocationTooClose, http.StatusUnprocessableEntity},
		{"state", InvalidState("basket in %s", "Rebalance"), ErrInvalidState, http.StatusConflict},
		{"unauthorized", Unauthorized("NXabc", "change data source"), ErrUnauthorized, http.StatusForbidden},
		{"oracle", OracleUnavailable("btc", fmt.Errorf("boom")), ErrOracleUnavailable, http.StatusBadGateway},
		{"revert", PropagatedRevert("propose", fmt.Errorf("boom")), ErrPropagatedRevert, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, stderrors.Is(wrapped, tc.sentinel))
			assert.Equal(t, tc.status, HTTPStatusOf(wrapped))
		})
	}
}

func TestWrappedCauseSurvives(t *testing.T) {
	cause := InsufficientData(3, 1)
	err := OracleUnavailable("btc-ma", cause)

	assert.True(t, stderrors.Is(err, ErrOracleUnavailable))
	assert.True(t, stderrors.Is(err, ErrInsufficientData))
	assert.False(t, stderrors.Is(err, ErrTooEarly))
	assert.Equal(t, CodeOracleUnavailable, CodeOf(err))
}

func TestHTTPStatusDefault(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(fmt.Errorf("plain")))
	assert.Equal(t, Code(""), CodeOf(fmt.Errorf("plain")))
}
