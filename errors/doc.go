// Package errors provides structured error types for the object model.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the property key, the expected and actual storage
// representations, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAccess, errors.KindTypeMismatch).
//		Key("x").
//		Want("int64").
//		Got("object").
//		Detail("location was generalized").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NoSuchProperty(errors.PhaseTransition, "x")
//	err := errors.TypeMismatch(errors.PhaseAccess, "x", "int64", "float64")
//
// Every Kind has a phase-less sentinel so callers can test the category
// without caring where it was raised:
//
//	if errors.Is(err, objerrors.ErrTypeMismatch) { ... retry generic ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
