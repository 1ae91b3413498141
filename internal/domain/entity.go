// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// MaxRegCodeAddons is the largest number of addons needing a registration
// code that can be registered in one session (two columns of 8).
const MaxRegCodeAddons = 16

// AddonStatus is the selection state of an addon within a session.
type AddonStatus string

const (
	StatusAvailable    AddonStatus = "available"
	StatusSelected     AddonStatus = "selected"
	StatusAutoSelected AddonStatus = "auto_selected"
	StatusRegistered   AddonStatus = "registered"
	StatusUnselected   AddonStatus = "unselected"
)

// AtLeastAutoSelected reports whether the status is auto_selected or stronger.
func (s AddonStatus) AtLeastAutoSelected() bool {
	return s == StatusAutoSelected || s == StatusSelected || s == StatusRegistered
}

// Anchors reports whether an addon in this status pins its dependencies.
func (s AddonStatus) Anchors() bool {
	return s == StatusSelected || s == StatusRegistered
}

// AddonRef points at another addon in the catalog.
// Version may be an exact version or a semver constraint (">= 15").
// Empty fields match anything.
type AddonRef struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Version    string `yaml:"version,omitempty" json:"version,omitempty"`
	Arch       string `yaml:"arch,omitempty" json:"arch,omitempty"`
}

func (r AddonRef) String() string {
	s := r.Identifier
	if r.Version != "" {
		s += " " + r.Version
	}
	if r.Arch != "" {
		s += " (" + r.Arch + ")"
	}
	return s
}

// Addon is an optional product extension offered by the registration server.
type Addon struct {
	Identifier  string `yaml:"identifier" json:"identifier"`
	Version     string `yaml:"version" json:"version"`
	Arch        string `yaml:"arch" json:"arch"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Free        bool   `yaml:"free" json:"free"`
	Recommended bool   `yaml:"recommended" json:"recommended"`
	Released    bool   `yaml:"released" json:"released"`
	// Registered is set by the server for addons this system already has.
	Registered bool       `yaml:"registered" json:"registered"`
	Depends    []AddonRef `yaml:"depends,omitempty" json:"depends,omitempty"`
}

// Key uniquely identifies the addon within a catalog.
func (a Addon) Key() string {
	return fmt.Sprintf("%s-%s-%s", a.Identifier, a.Version, a.Arch)
}

// RequiresRegCode reports whether registering the addon needs its own code.
func (a Addon) RequiresRegCode() bool {
	return !a.Free
}

// DisplayName returns the label, falling back to the identifier.
func (a Addon) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Identifier
}

// Credentials identify the system towards the registration server.
type Credentials struct {
	Email   string
	RegCode string
	// AddonCodes maps addon keys to their registration codes.
	AddonCodes map[string]string
}

// HardwareProfile is submitted to the server once a data conflict
// forces hardware data submission on.
type HardwareProfile struct {
	Hostname       string `json:"hostname"`
	OS             string `json:"os"`
	Platform       string `json:"platform"`
	PlatformVer    string `json:"platform_version"`
	KernelArch     string `json:"kernel_arch"`
	Virtualization string `json:"virtualization,omitempty"`
	CPUs           int    `json:"cpus"`
	CPUModel       string `json:"cpu_model,omitempty"`
	MemoryBytes    uint64 `json:"memory_bytes"`
}

// Service is a managed software source holding a set of repositories.
type Service struct {
	Name        string
	URL         string
	Enabled     bool
	AutoRefresh bool
	// Repos maps repository alias to its enabled flag.
	Repos          map[string]bool
	ReposToEnable  []string
	ReposToDisable []string
	RefreshedAt    time.Time
}

// RepoEnabled reports whether the service knows alias and has it enabled.
func (s *Service) RepoEnabled(alias string) (enabled, known bool) {
	enabled, known = s.Repos[alias]
	return enabled, known
}

// RepositoryDescriptor describes a standalone (legacy) repository to add.
type RepositoryDescriptor struct {
	Alias       string
	Name        string
	URL         string
	Enabled     bool
	AutoRefresh bool
}

// Repository is a standalone repository known to the store.
type Repository struct {
	ID          int64
	Alias       string
	Name        string
	URL         string
	Enabled     bool
	AutoRefresh bool
	RefreshedAt time.Time
}
