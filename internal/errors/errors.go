// Package errors re-exports github.com/cockroachdb/errors for the selector.
//
//	err := errors.New("something went wrong")
//	return errors.Wrap(err, "sampling battery")
//	if errors.Is(err, ErrFrameDropped) { ... }
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New       = crdb.New
	Newf      = crdb.Newf
	Wrap      = crdb.Wrap
	Wrapf     = crdb.Wrapf
	WithStack = crdb.WithStack
	Mark      = crdb.Mark
)

// Hints and details
var (
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)
