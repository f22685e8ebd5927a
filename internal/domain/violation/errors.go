package violation

import "errors"

var (
	ErrInvalidDetection = errors.New("invalid detection")
	ErrIssuance         = errors.New("fine issuance failed")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyPaid      = errors.New("fine already paid")
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	ErrInvalidPage      = errors.New("invalid page")
)
