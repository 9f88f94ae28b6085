package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExecMode represents how the monitor is installed.
type ExecMode string

const (
	// ExecModeUser runs as a systemd user service (no root required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as a system service (root required)
	ExecModeSystem ExecMode = "system"
)

// UnitName is the systemd unit file name.
const UnitName = "errwatch.service"

// Paths holds the per-mode locations of state, logs and the unit file.
type Paths struct {
	Mode     ExecMode
	DataDir  string // ignore list, secret store and its key
	LogDir   string
	UnitDir  string
	UnitPath string
	IsRoot   bool
}

// DetectPaths picks system or user locations based on effective UID.
func DetectPaths() *Paths {
	if os.Geteuid() == 0 {
		return SystemPaths()
	}
	return UserPaths(GetRealUserHome())
}

// SystemPaths returns the locations used when running as root.
func SystemPaths() *Paths {
	return &Paths{
		Mode:     ExecModeSystem,
		DataDir:  "/var/lib/errwatch",
		LogDir:   "/var/log/errwatch",
		UnitDir:  "/etc/systemd/system",
		UnitPath: filepath.Join("/etc/systemd/system", UnitName),
		IsRoot:   true,
	}
}

// UserPaths returns XDG locations under home.
func UserPaths(home string) *Paths {
	dataHome := xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	stateHome := xdgDir("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	configHome := xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	unitDir := filepath.Join(configHome, "systemd", "user")

	return &Paths{
		Mode:     ExecModeUser,
		DataDir:  filepath.Join(dataHome, "errwatch"),
		LogDir:   filepath.Join(stateHome, "errwatch"),
		UnitDir:  unitDir,
		UnitPath: filepath.Join(unitDir, UnitName),
		IsRoot:   os.Geteuid() == 0,
	}
}

func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); filepath.IsAbs(v) {
		return v
	}
	return fallback
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (systemd system unit, root)"
	case ExecModeUser:
		return "user (systemd user unit, non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the invoking user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to home.
func ExpandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
