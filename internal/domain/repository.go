package domain

import "context"

// RepositoryStore manages the local set of software sources.
// Implementation: SQLCipher-backed store in infra.
type RepositoryStore interface {
	// AddService registers a new service. Fails with ErrAlreadyExists
	// if a service of that name is loaded.
	AddService(name, url string) error

	// DeleteService removes a service by name.
	DeleteService(name string) error

	// GetService returns a copy of the service properties or ErrNotFound.
	GetService(name string) (*Service, error)

	// SetService replaces the properties of an existing service.
	SetService(name string, svc *Service) error

	// SaveService persists one service.
	SaveService(name string) error

	// RefreshService re-reads the service and applies pending
	// enable/disable lists to its repositories.
	RefreshService(name string) error

	// AddRepository adds a standalone repository and returns its id.
	AddRepository(desc RepositoryDescriptor) (int64, error)

	// DeleteRepository removes a standalone repository by id.
	DeleteRepository(id int64) error

	// FindRepository looks a standalone repository up by alias.
	FindRepository(alias string) (*Repository, error)

	// Services returns the names of all loaded services.
	Services() []string

	// Repositories returns all loaded standalone repositories.
	Repositories() []Repository

	// SaveAll persists every pending change.
	SaveAll() error

	// RefreshAll refreshes every service and repository once.
	RefreshAll() error

	// FinishAll releases the loaded sources.
	FinishAll() error

	// RestartManager reloads sources from persistent state. Without
	// force it refuses while another package manager holds the lock.
	RestartManager(force bool) error
}

// RegistrationClient is the opaque boundary to the registration server.
type RegistrationClient interface {
	// Init performs the (expensive) session setup for the given context.
	Init(ctx context.Context, sc SessionContext) error

	// Register runs one registration attempt.
	Register(ctx context.Context, creds Credentials, addons []Addon, hw *HardwareProfile) (RegisterResponse, error)

	// GetTaskList returns the source changes for the last successful attempt.
	GetTaskList(ctx context.Context) ([]Task, error)

	// GetAddonList returns the addons offered for the current product.
	GetAddonList(ctx context.Context) ([]Addon, error)
}

// InteractionAgent runs an out-of-band manual step, e.g. a browser.
type InteractionAgent interface {
	// Interact blocks until the user finished with url. Returns
	// ErrNoAgent if none can be launched and ErrCancelled if the user
	// abandoned the step.
	Interact(ctx context.Context, url, text string) error
}

// HardwareProfiler collects data for hardware submission.
// Implementation: gopsutil host/cpu/mem.
type HardwareProfiler interface {
	Profile() (*HardwareProfile, error)
}

// ProcessManager handles OS process lookups.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
