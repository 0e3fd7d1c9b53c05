package forecast

import "errors"

var (
	// ErrNotTrained means no complete artifact set exists for the requested unit.
	// Callers treat it as "no forecast available", distinct from computation failures.
	ErrNotTrained = errors.New("no trained model")

	// ErrNoData means the source returned no spend rows for the training unit.
	ErrNoData = errors.New("no transactions for training unit")

	// ErrUnknownCategory means the entity has history, but none in the target category.
	ErrUnknownCategory = errors.New("category not present in entity history")

	// ErrInsufficientHistory means the series is too short to produce training windows.
	ErrInsufficientHistory = errors.New("insufficient history to train")

	// ErrShape is a width mismatch between a frame and a fitted transform.
	ErrShape = errors.New("shape mismatch")
)
