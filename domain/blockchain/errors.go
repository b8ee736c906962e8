// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies a kind of block or transaction rule violation.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrOrphanBlock indicates the block's parent is unknown.
	ErrOrphanBlock

	// ErrBlockVersion indicates the block version is not valid at the
	// block's height.
	ErrBlockVersion

	// ErrTimestampTooOld indicates the block timestamp is below the median
	// of the recent timestamp window.
	ErrTimestampTooOld

	// ErrTimestampTooNew indicates the block timestamp is too far in the
	// future.
	ErrTimestampTooNew

	// ErrInsufficientPow indicates the proof-of-work hash does not satisfy
	// the required difficulty.
	ErrInsufficientPow

	// ErrCheckpointMismatch indicates the block sits at a checkpointed
	// height with a hash different from the checkpoint.
	ErrCheckpointMismatch

	// ErrBranchTooDeep indicates an alternative branch diverges below the
	// reorganization window.
	ErrBranchTooDeep

	// ErrBadCoinbase indicates a structurally invalid miner transaction.
	ErrBadCoinbase

	// ErrBadReward indicates the coinbase output total does not equal the
	// block reward plus the included fees.
	ErrBadReward

	// ErrBlockTooBig indicates the block's cumulative transaction size
	// exceeds the limit.
	ErrBlockTooBig

	// ErrMissingTransactions indicates the provided transaction bodies do
	// not match the hashes the block commits to.
	ErrMissingTransactions

	// ErrInvalidTransaction indicates a semantically invalid transaction:
	// bad structure, amount overflow, or outputs exceeding inputs.
	ErrInvalidTransaction

	// ErrKeyImageSpent indicates a key image that is already present on
	// the chain being extended.
	ErrKeyImageSpent

	// ErrRingMemberUnknown indicates a ring references a global output
	// index that does not exist for its amount.
	ErrRingMemberUnknown

	// ErrRingMemberLocked indicates a ring references an output that is
	// still locked at the block's height.
	ErrRingMemberLocked

	// ErrSignatureInvalid indicates a ring signature that does not verify.
	ErrSignatureInvalid
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:      "ErrDuplicateBlock",
	ErrOrphanBlock:         "ErrOrphanBlock",
	ErrBlockVersion:        "ErrBlockVersion",
	ErrTimestampTooOld:     "ErrTimestampTooOld",
	ErrTimestampTooNew:     "ErrTimestampTooNew",
	ErrInsufficientPow:     "ErrInsufficientPow",
	ErrCheckpointMismatch:  "ErrCheckpointMismatch",
	ErrBranchTooDeep:       "ErrBranchTooDeep",
	ErrBadCoinbase:         "ErrBadCoinbase",
	ErrBadReward:           "ErrBadReward",
	ErrBlockTooBig:         "ErrBlockTooBig",
	ErrMissingTransactions: "ErrMissingTransactions",
	ErrInvalidTransaction:  "ErrInvalidTransaction",
	ErrKeyImageSpent:       "ErrKeyImageSpent",
	ErrRingMemberUnknown:   "ErrRingMemberUnknown",
	ErrRingMemberLocked:    "ErrRingMemberLocked",
	ErrSignatureInvalid:    "ErrSignatureInvalid",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules. The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// field to ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleErrorCode returns whether err is a RuleError carrying the given code.
func IsRuleErrorCode(err error, code ErrorCode) bool {
	var ruleErr RuleError
	return errors.As(err, &ruleErr) && ruleErr.ErrorCode == code
}
