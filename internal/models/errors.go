package models

import "errors"

var (
	// ErrOrderNotFound is returned when the order does not exist or belongs
	// to a different user.
	ErrOrderNotFound = errors.New("deposit order not found")

	// ErrAllocationExhausted is returned when no free disambiguation amount
	// could be allocated for the receiving address. The user should retry
	// shortly.
	ErrAllocationExhausted = errors.New("amount allocation exhausted for address")

	// ErrAlreadySettled is returned when a cancel races with settlement.
	// Settlement wins.
	ErrAlreadySettled = errors.New("order already settled")

	// ErrOrderNotOpen is returned when a transition requires an OPEN order.
	ErrOrderNotOpen = errors.New("order is not open")

	// ErrInvalidChain is returned for unsupported chain identifiers.
	ErrInvalidChain = errors.New("unsupported chain")

	// ErrInvalidAmount is returned for base amounts off the allocation grid.
	ErrInvalidAmount = errors.New("invalid deposit amount")

	// ErrChainUnavailable is returned when the registry has no receiving
	// address configured for the requested chain.
	ErrChainUnavailable = errors.New("no payment method configured for chain")
)
