package mempool

import (
	"fmt"
)

// RejectCode identifies why a transaction was refused admission to the pool.
type RejectCode int

// Constants describing every admission failure.
const (
	// RejectInvalidSemantics indicates a structurally invalid transaction.
	RejectInvalidSemantics RejectCode = iota

	// RejectKeyImageAlreadyUsed indicates a key image already present on
	// the chain or in the pool.
	RejectKeyImageAlreadyUsed

	// RejectFeeBelowMinimum indicates a fee below the per-byte floor.
	RejectFeeBelowMinimum

	// RejectTooLarge indicates a transaction above the size limit.
	RejectTooLarge

	// RejectRingMemberUnknown indicates a ring referencing a global output
	// index that does not exist.
	RejectRingMemberUnknown

	// RejectSignatureInvalid indicates a ring signature that does not
	// verify.
	RejectSignatureInvalid

	// RejectUnlockInFuture indicates an unlock time too far ahead to ever
	// be minable soon.
	RejectUnlockInFuture
)

var rejectCodeStrings = map[RejectCode]string{
	RejectInvalidSemantics:    "RejectInvalidSemantics",
	RejectKeyImageAlreadyUsed: "RejectKeyImageAlreadyUsed",
	RejectFeeBelowMinimum:     "RejectFeeBelowMinimum",
	RejectTooLarge:            "RejectTooLarge",
	RejectRingMemberUnknown:   "RejectRingMemberUnknown",
	RejectSignatureInvalid:    "RejectSignatureInvalid",
	RejectUnlockInFuture:      "RejectUnlockInFuture",
}

// String returns the RejectCode as a human-readable name.
func (c RejectCode) String() string {
	if s := rejectCodeStrings[c]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", int(c))
}

// TxRuleError identifies a transaction admission failure.
type TxRuleError struct {
	RejectCode  RejectCode
	Description string
}

// Error satisfies the error interface.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates a TxRuleError given a set of arguments.
func txRuleError(c RejectCode, desc string) TxRuleError {
	return TxRuleError{RejectCode: c, Description: desc}
}
