package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
	ErrRunActive     = errors.New("a run is already in progress")
	ErrScrapeFailed  = errors.New("scrape failed")
	ErrSanityGate    = errors.New("implausible inventory shrink")
	ErrPersistFailed = errors.New("persist failed")
)
