package models

import (
	"errors"
)

var (
	// Intake errors. These are user facing and never change the run state.
	ErrNoImages      = errors.New("no reference images provided")
	ErrTooManyImages = errors.New("too many reference images")
	ErrNotAnImage    = errors.New("file is not an image")
	ErrImageTooLarge = errors.New("image is too large")

	// Run state errors.
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrBusy         = errors.New("campaign is busy")
	ErrNoMaterial   = errors.New("no reference material accepted yet")

	ErrJobNotFound = errors.New("job not found")
)
