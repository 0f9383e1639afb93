package registry

import "errors"

var (
	// ErrAlreadyExists is returned by Create when another process has
	// already published the static config for this service name.
	ErrAlreadyExists = errors.New("registry: service already exists")

	// ErrDoesNotExist is returned by Open when no static config has been
	// published for this service name.
	ErrDoesNotExist = errors.New("registry: service does not exist")

	// ErrIsBeingCreated is returned when another instance has claimed the
	// service name but not yet finished publishing its static config.
	ErrIsBeingCreated = errors.New("registry: service is being created by another instance")

	// ErrInitializationNotYetFinalized is returned when an opener timed
	// out waiting for a racing creator to finish.
	ErrInitializationNotYetFinalized = errors.New("registry: initialization not yet finalized")

	// ErrVersionMismatch is returned when a static config was written by
	// an incompatible format version.
	ErrVersionMismatch = errors.New("registry: static config version mismatch")

	// ErrCorruptedConfig is returned when a static config fails to decode.
	ErrCorruptedConfig = errors.New("registry: static config corrupted")

	// ErrIncompatiblePattern is returned when the existing service uses a
	// different messaging pattern.
	ErrIncompatiblePattern = errors.New("registry: incompatible messaging pattern")

	// ErrIncompatibleTypes is returned when payload or header type details
	// do not match the existing service.
	ErrIncompatibleTypes = errors.New("registry: incompatible types")

	// ErrIncompatibleAttributes is returned when the attribute verifier's
	// requirements are not satisfied by the existing service.
	ErrIncompatibleAttributes = errors.New("registry: incompatible attributes")

	// ErrPortCapacityExceeded is returned by DynamicConfig.Register when
	// the per-kind capacity of a service is exhausted.
	ErrPortCapacityExceeded = errors.New("registry: port capacity exceeded")

	// ErrDynamicConfigLocked is returned by DynamicConfig.Register after
	// the table was frozen for teardown.
	ErrDynamicConfigLocked = errors.New("registry: dynamic config locked")
)
