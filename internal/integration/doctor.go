package integration

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/g960059/pnp/internal/config"
)

type DoctorOptions struct {
	HomeDir    string
	TmuxConf   string
	ConfigPath string
	SocketPath string
	// LookPath resolves the tmux binary; exec.LookPath when nil.
	LookPath func(string) (string, error)
}

type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass | warn | fail
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type DoctorResult struct {
	OK       bool          `json:"ok"`
	Checks   []DoctorCheck `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Doctor inspects the local environment pnp depends on: the tmux binary,
// the config file, the installed key bindings and the daemon socket.
func Doctor(opts DoctorOptions) (DoctorResult, error) {
	normalized, err := normalizeOptions(InstallOptions{
		HomeDir:  opts.HomeDir,
		TmuxConf: opts.TmuxConf,
	})
	if err != nil {
		return DoctorResult{}, err
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	out := DoctorResult{OK: true}
	add := func(c DoctorCheck) {
		out.Checks = append(out.Checks, c)
		if c.Status == "warn" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", c.Name, c.Message))
		}
		if c.Status == "fail" {
			out.OK = false
		}
	}

	add(checkTmuxBinary(lookPath))
	add(checkConfig(opts.ConfigPath))
	bindings, err := checkBindings(normalized.TmuxConf)
	if err != nil {
		return DoctorResult{}, err
	}
	add(bindings)
	add(checkSocket(opts.SocketPath))
	return out, nil
}

func checkTmuxBinary(lookPath func(string) (string, error)) DoctorCheck {
	path, err := lookPath("tmux")
	if err != nil {
		return DoctorCheck{Name: "tmux_binary", Status: "fail", Message: "tmux not found in PATH"}
	}
	return DoctorCheck{Name: "tmux_binary", Status: "pass", Message: "found", Path: path}
}

func checkConfig(path string) DoctorCheck {
	if strings.TrimSpace(path) == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DoctorCheck{Name: "config", Status: "pass", Message: "no config file; using defaults", Path: path}
	}
	if _, err := config.Load(path); err != nil {
		return DoctorCheck{Name: "config", Status: "fail", Message: err.Error(), Path: path}
	}
	return DoctorCheck{Name: "config", Status: "pass", Message: "valid", Path: path}
}

func checkBindings(path string) (DoctorCheck, error) {
	raw, err := readOptional(path)
	if err != nil {
		return DoctorCheck{}, err
	}
	text := string(raw)
	start := strings.Index(text, blockBegin)
	end := strings.Index(text, blockEnd)
	if start < 0 {
		return DoctorCheck{Name: "tmux_bindings", Status: "warn", Message: "key bindings not installed; run `pnp install`", Path: path}, nil
	}
	if end < start {
		return DoctorCheck{Name: "tmux_bindings", Status: "fail", Message: "unbalanced pnp block markers", Path: path}, nil
	}
	block := text[start:end]
	for cmd := range DefaultKeys {
		if !strings.Contains(block, " "+string(cmd)+"'") {
			return DoctorCheck{
				Name:    "tmux_bindings",
				Status:  "warn",
				Message: fmt.Sprintf("no binding for %s; rerun `pnp install`", cmd),
				Path:    path,
			}, nil
		}
	}
	return DoctorCheck{Name: "tmux_bindings", Status: "pass", Message: "installed", Path: path}, nil
}

func checkSocket(path string) DoctorCheck {
	if strings.TrimSpace(path) == "" {
		return DoctorCheck{Name: "daemon_socket", Status: "warn", Message: "socket path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DoctorCheck{Name: "daemon_socket", Status: "fail", Message: "socket not found; is pnpd running?", Path: path}
		}
		return DoctorCheck{Name: "daemon_socket", Status: "fail", Message: fmt.Sprintf("stat error: %v", err), Path: path}
	}
	if info.Mode()&os.ModeSocket == 0 {
		return DoctorCheck{Name: "daemon_socket", Status: "fail", Message: "not a unix socket", Path: path}
	}
	if info.Mode().Perm()&0o077 != 0 {
		return DoctorCheck{Name: "daemon_socket", Status: "warn", Message: fmt.Sprintf("permissions %o are wider than 0600", info.Mode().Perm()), Path: path}
	}
	return DoctorCheck{Name: "daemon_socket", Status: "pass", Message: "present", Path: path}
}
