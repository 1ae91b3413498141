package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps sources and config under the user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem manages the system-wide sources (root required).
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds default paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // encrypted source store and its key
	ConfigPath string
	LogPath    string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			DataDir:    "/var/lib/regsync",
			ConfigPath: "/etc/regsync/config.yaml",
			LogPath:    "/var/log/regsync.log",
			IsRoot:     true,
		}
	}
	home, _ := os.UserHomeDir()
	return userModeConfig(home, false)
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetUserModeConfig returns user mode paths regardless of current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	return userModeConfig(GetRealUserHome(), os.Geteuid() == 0)
}

func userModeConfig(home string, isRoot bool) *ExecModeConfig {
	dataDir := filepath.Join(home, ".regsync")
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		LogPath:    filepath.Join(dataDir, "regsync.log"),
		IsRoot:     isRoot,
	}
}

// GetRealUserHome returns the real user's home directory, even when
// running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
