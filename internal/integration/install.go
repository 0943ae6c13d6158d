package integration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/g960059/pnp/internal/model"
)

const (
	blockBegin = "# >>> pnp key bindings >>>"
	blockEnd   = "# <<< pnp key bindings <<<"

	defaultKeyTable  = "pnp"
	defaultPrefixKey = "g"
)

// DefaultKeys maps each command to its key inside the pnp key table.
var DefaultKeys = map[model.Command]string{
	model.CommandPick:  "p",
	model.CommandPlace: "l",
	model.CommandChuck: "c",
	model.CommandToss:  "t",
	model.CommandSpike: "s",
}

type InstallOptions struct {
	HomeDir   string
	TmuxConf  string
	PNPBin    string
	PrefixKey string
	KeyTable  string
	DryRun    bool
}

type InstallResult struct {
	DryRun       bool     `json:"dry_run"`
	TmuxConf     string   `json:"tmux_conf"`
	FilesWritten []string `json:"files_written,omitempty"`
	Backups      []string `json:"backups,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Install writes (or refreshes) a managed block of tmux key bindings that
// pipe each command word to the daemon through the pnp CLI. Content outside
// the block is preserved.
func Install(opts InstallOptions) (InstallResult, error) {
	normalized, err := normalizeOptions(opts)
	if err != nil {
		return InstallResult{}, err
	}
	res := InstallResult{DryRun: normalized.DryRun, TmuxConf: normalized.TmuxConf}

	raw, err := readOptional(normalized.TmuxConf)
	if err != nil {
		return InstallResult{}, err
	}
	updated, err := mergeManagedBlock(string(raw), RenderBindings(normalized))
	if err != nil {
		return InstallResult{}, fmt.Errorf("merge %s: %w", normalized.TmuxConf, err)
	}
	if err := writeManagedFile(normalized.TmuxConf, updated, 0o644, normalized.DryRun, &res); err != nil {
		return InstallResult{}, err
	}
	if len(res.FilesWritten) > 0 && !normalized.DryRun {
		res.Warnings = append(res.Warnings, fmt.Sprintf("run `tmux source-file %s` to load the bindings", normalized.TmuxConf))
	}
	return res, nil
}

func normalizeOptions(opts InstallOptions) (InstallOptions, error) {
	normalized := opts
	if strings.TrimSpace(normalized.HomeDir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return InstallOptions{}, fmt.Errorf("resolve home dir: %w", err)
		}
		normalized.HomeDir = home
	}
	if strings.TrimSpace(normalized.TmuxConf) == "" {
		normalized.TmuxConf = filepath.Join(normalized.HomeDir, ".tmux.conf")
	}
	if strings.TrimSpace(normalized.PNPBin) == "" {
		normalized.PNPBin = "pnp"
	}
	if strings.TrimSpace(normalized.PrefixKey) == "" {
		normalized.PrefixKey = defaultPrefixKey
	}
	if strings.TrimSpace(normalized.KeyTable) == "" {
		normalized.KeyTable = defaultKeyTable
	}
	if strings.ContainsAny(normalized.PNPBin, "'\n") {
		return InstallOptions{}, fmt.Errorf("pnp binary path must not contain quotes or newlines: %q", normalized.PNPBin)
	}
	return normalized, nil
}

// RenderBindings returns the managed block, markers included.
func RenderBindings(opts InstallOptions) string {
	var b strings.Builder
	b.WriteString(blockBegin + "\n")
	fmt.Fprintf(&b, "bind-key %s switch-client -T %s\n", opts.PrefixKey, opts.KeyTable)
	for _, cmd := range model.Commands {
		fmt.Fprintf(&b, "bind-key -T %s %s run-shell -b '%s %s'\n", opts.KeyTable, DefaultKeys[cmd], opts.PNPBin, cmd)
	}
	b.WriteString(blockEnd + "\n")
	return b.String()
}

// mergeManagedBlock replaces an existing managed block in raw, or appends
// one when absent.
func mergeManagedBlock(raw, block string) (string, error) {
	start := strings.Index(raw, blockBegin)
	end := strings.Index(raw, blockEnd)
	switch {
	case start < 0 && end < 0:
		if raw == "" {
			return block, nil
		}
		return normalizeTrailingNewline(raw) + "\n" + block, nil
	case start < 0 || end < start:
		return "", fmt.Errorf("unbalanced pnp block markers")
	}
	tail := raw[end+len(blockEnd):]
	tail = strings.TrimPrefix(tail, "\n")
	return raw[:start] + block + tail, nil
}

func normalizeTrailingNewline(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}

func writeManagedFile(path, content string, perm os.FileMode, dryRun bool, res *InstallResult) error {
	existing, err := readOptional(path)
	if err != nil {
		return err
	}
	if bytes.Equal(existing, []byte(content)) {
		return nil
	}

	if dryRun {
		res.FilesWritten = append(res.FilesWritten, path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if len(existing) > 0 {
		backupPath := fmt.Sprintf("%s.bak.%d", path, time.Now().UTC().UnixNano())
		if err := os.WriteFile(backupPath, existing, 0o600); err != nil {
			return fmt.Errorf("write backup %s: %w", backupPath, err)
		}
		res.Backups = append(res.Backups, backupPath)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UTC().UnixNano())
	if err := os.WriteFile(tmpPath, []byte(content), perm); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file %s: %w", path, err)
	}
	res.FilesWritten = append(res.FilesWritten, path)
	return nil
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		return b, nil
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("read file %s: %w", path, err)
}
