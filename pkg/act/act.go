// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package act provides abstractions for building actions that are exposed
// through a command line.
package act

import "context"

// Input is a validated input type (flags, config file, etc.)
type Input interface {
	Validate() error
}

// Deps is a marker type for dependency containers.
type Deps any

// InitDeps initializes dependencies from context.
type InitDeps[D Deps] func(context.Context) (D, error)

// Action is an operation over a validated input.
type Action[I Input, O any, D Deps] func(context.Context, I, D) (*O, error)

// NoOutput is a zero-value output for actions that only produce side effects.
type NoOutput struct{}
