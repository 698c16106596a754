// Package mocks provides generated mocks for repository ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks.
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockUserRepository(ctrl)
//	repo.EXPECT().GetByUsername(gomock.Any(), "ada").Return(user, nil)
package mocks

// Generate mock for UserRepository interface from internal/ports package.
// This creates MockUserRepository with methods for all UserRepository interface methods:
// Create, GetByUsername, List, UpdateRole, Delete, TouchLogin
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=user_repository_mock.go github.com/qslabs/schoolgate/internal/ports UserRepository
