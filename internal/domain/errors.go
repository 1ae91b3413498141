package domain

import "errors"

// Validation errors.
var (
	ErrMalformedTask        = errors.New("malformed task")
	ErrDependencyCycle      = errors.New("dependency cycle in addon catalog")
	ErrTooManyAddons        = errors.New("too many addons requiring a registration code")
	ErrUnknownAddon         = errors.New("unknown addon")
	ErrUnresolvedDependency = errors.New("unresolved addon dependency")
	ErrDuplicateAddon       = errors.New("duplicate addon")
	ErrStillRequired        = errors.New("addon is required by another selected addon")
	ErrAlreadyRegistered    = errors.New("addon is already registered")
)

// Store errors, aggregated by the reconciler.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrPersistFailed        = errors.New("persisting sources failed")
	ErrRefreshFailed        = errors.New("refreshing sources failed")
	ErrSourceManagerBusy    = errors.New("source manager is locked by another process")
	ErrSourcesNotLoaded     = errors.New("sources are not loaded")
)

// Registration errors.
var (
	ErrNoAgent       = errors.New("no interactive agent available")
	ErrCancelled     = errors.New("registration cancelled")
	ErrTargetInit    = errors.New("target initialization failed")
	ErrSourceManager = errors.New("could not start the source manager")
	ErrUnknownStatus = errors.New("unrecognized registration status")
	ErrAttemptLimit  = errors.New("registration attempt limit reached")
)
