// Package reader opens local archives in an external ZIM reader.
package reader

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mmcdole/zimshelf/internal/domain"
)

// ErrNotOnDevice is returned when an archive has no readable local file.
var ErrNotOnDevice = errors.New("archive is not on this device")

// Launcher opens ZIM files in an external reader
type Launcher struct {
	command string   // configured reader command, empty to auto-detect
	args    []string // additional arguments for the reader
	logger  *slog.Logger

	// start runs a command without waiting for it
	start func(name string, args ...string) error
	// lookPath reports whether a command is on PATH
	lookPath func(name string) (string, error)
}

// candidateReaders defines the preferred reader launch paths per platform.
// "open-a:" paths launch a macOS app bundle through open -a.
var candidateReaders = map[string][]string{
	"darwin":  {"open-a:Kiwix", "kiwix-desktop"},
	"linux":   {"kiwix-desktop", "flatpak-run:org.kiwix.desktop"},
	"windows": {"kiwix-desktop.exe", "kiwix-desktop"},
}

// NewLauncher creates a launcher. An empty command auto-detects a reader.
func NewLauncher(command string, args []string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command:  command,
		args:     args,
		logger:   logger,
		start:    startCommand,
		lookPath: exec.LookPath,
	}
}

func startCommand(name string, args ...string) error {
	return exec.Command(name, args...).Start() // Start async, don't wait
}

// Open launches the reader on rec's local file
func (l *Launcher) Open(rec domain.ArchiveRecord) error {
	if !rec.IsOnDevice() || rec.FilePath == "" {
		return fmt.Errorf("%s: %w", rec.ID, ErrNotOnDevice)
	}

	// Tier 1: User configured a specific reader
	if l.command != "" {
		args := append(append([]string{}, l.args...), rec.FilePath)
		l.logger.Info("launching reader", "command", l.command, "args", args)
		return l.start(l.command, args...)
	}

	// Tier 2: Try candidate readers for this platform
	if path, err := l.detectAndLaunch(rec.FilePath); err == nil {
		l.logger.Info("launched with detected reader", "path", path)
		return nil
	}

	// Tier 3: Fall back to system default (open/xdg-open/start)
	l.logger.Info("no candidate readers found, using system default")
	return l.launchDefault(rec.FilePath)
}

// detectAndLaunch tries candidate readers in order and returns the launch
// path that succeeded
func (l *Launcher) detectAndLaunch(file string) (string, error) {
	candidates, ok := candidateReaders[runtime.GOOS]
	if !ok {
		candidates = candidateReaders["linux"] // default
	}

	for _, path := range candidates {
		var err error
		switch {
		case strings.HasPrefix(path, "open-a:"):
			err = l.start("open", "-a", strings.TrimPrefix(path, "open-a:"), file)
		case strings.HasPrefix(path, "flatpak-run:"):
			if _, err = l.lookPath("flatpak"); err == nil {
				err = l.start("flatpak", "run", strings.TrimPrefix(path, "flatpak-run:"), file)
			}
		default:
			if _, err = l.lookPath(path); err == nil {
				err = l.start(path, file)
			}
		}
		if err == nil {
			return path, nil
		}
		l.logger.Debug("reader launch path not available", "path", path, "error", err)
	}
	return "", fmt.Errorf("no candidate readers found")
}

// launchDefault opens the file using the system default handler
func (l *Launcher) launchDefault(file string) error {
	switch runtime.GOOS {
	case "darwin":
		return l.start("open", file)
	case "windows":
		return l.start("cmd", "/c", "start", "", file)
	default:
		// Linux and other Unix-like systems
		return l.start("xdg-open", file)
	}
}
