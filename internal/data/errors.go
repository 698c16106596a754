package data

import "github.com/qslabs/schoolgate/internal/domain/model"

// Shared sentinel errors for data-layer repositories.
var (
	ErrUserNotFound = model.ErrUserNotFound
	ErrUserExists   = model.ErrUserExists
)
