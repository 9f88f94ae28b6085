package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const unitTemplate = `[Unit]
Description=errwatch system error monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.ExecutablePath}} run
Restart=on-failure
RestartSec=10
{{- if .ConfigPath}}
Environment=ERRWATCH_CONFIG={{.ConfigPath}}
{{- end}}

[Install]
WantedBy={{.WantedBy}}
`

type unitConfig struct {
	ExecutablePath string
	ConfigPath     string
	WantedBy       string
}

// SystemdInstaller implements domain.ServiceInstaller for both modes.
type SystemdInstaller struct {
	paths      *Paths
	configPath string
	systemctl  string
	logger     *zap.Logger
}

// NewSystemdInstaller creates an installer for the given locations.
// configPath, when set, is exported to the service as ERRWATCH_CONFIG.
func NewSystemdInstaller(paths *Paths, configPath string, logger *zap.Logger) *SystemdInstaller {
	return &SystemdInstaller{
		paths:      paths,
		configPath: configPath,
		systemctl:  "systemctl",
		logger:     logger,
	}
}

// generateUnit renders the unit file for execPath.
func (s *SystemdInstaller) generateUnit(execPath string) ([]byte, error) {
	cfg := unitConfig{
		ExecutablePath: execPath,
		ConfigPath:     s.configPath,
		WantedBy:       "default.target",
	}
	if s.paths.Mode == ExecModeSystem {
		cfg.WantedBy = "multi-user.target"
	}

	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit, reloads systemd and enables the service.
func (s *SystemdInstaller) Install(execPath string) error {
	if err := os.MkdirAll(s.paths.UnitDir, 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}

	content, err := s.generateUnit(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.paths.UnitPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	s.logger.Info("unit file written", zap.String("path", s.paths.UnitPath))

	if err := s.run("daemon-reload"); err != nil {
		return err
	}
	return s.run("enable", "--now", UnitName)
}

// Uninstall stops the service and removes the unit.
func (s *SystemdInstaller) Uninstall() error {
	// Not running is fine.
	_ = s.run("disable", "--now", UnitName)

	if err := os.Remove(s.paths.UnitPath); err != nil {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}
	return s.run("daemon-reload")
}

// IsInstalled checks whether the unit file exists.
func (s *SystemdInstaller) IsInstalled() bool {
	_, err := os.Stat(s.paths.UnitPath)
	return err == nil
}

// NeedsUpdate reports whether an installed unit differs from what Install
// would write now.
func (s *SystemdInstaller) NeedsUpdate(execPath string) bool {
	if !s.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(s.paths.UnitPath)
	if err != nil {
		return true
	}
	expected, err := s.generateUnit(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetUnitPath returns the unit file path.
func (s *SystemdInstaller) GetUnitPath() string {
	return s.paths.UnitPath
}

func (s *SystemdInstaller) run(args ...string) error {
	if s.paths.Mode == ExecModeUser {
		args = append([]string{"--user"}, args...)
	}
	out, err := exec.Command(s.systemctl, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s failed: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Ensure SystemdInstaller implements domain.ServiceInstaller.
var _ domain.ServiceInstaller = (*SystemdInstaller)(nil)
