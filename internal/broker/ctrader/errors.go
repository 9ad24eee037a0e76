// Package ctrader implements broker.Session over the cTrader Open API JSON
// WebSocket protocol.
package ctrader

import (
	"errors"
	"fmt"

	"ctrader_gateway/internal/broker"
)

var (
	// ErrClosed indicates the WebSocket is gone. It matches broker.ErrNotConnected.
	ErrClosed = fmt.Errorf("ctrader connection closed: %w", broker.ErrNotConnected)

	// ErrMissingApplication indicates the client id or secret is not configured.
	ErrMissingApplication = errors.New("ctrader application credentials not configured")

	// ErrQuoteTimeout indicates no spot arrived for a subscribed symbol in time.
	ErrQuoteTimeout = errors.New("timed out waiting for spot")

	// ErrPositionNotFound indicates a position id is not open on the account.
	ErrPositionNotFound = errors.New("position not found")

	// ErrOrderRejected indicates the server rejected an order.
	ErrOrderRejected = errors.New("order rejected")
)

// VendorError is an error response from the cTrader server.
type VendorError struct {
	Code        string
	Description string
}

func (e *VendorError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ctrader: %s", e.Code)
	}
	return fmt.Sprintf("ctrader: %s: %s", e.Code, e.Description)
}
