package store

import "errors"

var (
	ErrNotFound      = errors.New("store: job not found")
	ErrStoreNotEmpty = errors.New("store: already seeded, clear it first")
	ErrNoPrompts     = errors.New("store: no prompts to seed")
)
