// Package minting talks to the collaborator that creates ticket tokens.
// Every call is keyed by application id, so repeating a call is safe.
package minting

import (
	"context"
	"errors"

	"ms-eventchain/internal/models"
)

type Minter interface {
	Mint(ctx context.Context, req models.MintRequest) (*models.MintResult, error)
}

// Attester writes post-issue facts about a token: attendance and
// certificate hashes. Callers treat failures as best effort.
type Attester interface {
	MarkAttendance(ctx context.Context, req models.AttendanceRequest) (*models.ChainReceipt, error)
	AnchorCertificate(ctx context.Context, req models.AnchorRequest) (*models.ChainReceipt, error)
}

// Chain is everything a binary needs from the token contract.
type Chain interface {
	Minter
	Attester
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent mint failure: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
