package session

import (
	"os"
	"path/filepath"
)

// configDir returns $XDG_CONFIG_HOME/connectd.
func configDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "connectd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "connectd")
}

// stateDir returns $XDG_STATE_HOME/connectd.
func stateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "connectd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "connectd")
}

// cacheDir returns $XDG_CACHE_HOME/connectd.
func cacheDir() string {
	if d := os.Getenv("XDG_CACHE_HOME"); d != "" {
		return filepath.Join(d, "connectd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "connectd")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(stateDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "connectd.log")
}

// ContactDBPath returns the contact cache database path.
func ContactDBPath() string {
	return filepath.Join(cacheDir(), "contacts.db")
}

// LockDir returns the directory holding cross-process notification locks.
// Lives under XDG_RUNTIME_DIR when available so stale locks vanish on logout.
func LockDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return filepath.Join(d, "connectd-locks")
	}
	return filepath.Join(os.TempDir(), "connectd-locks")
}

// VCardDir returns the directory where KDE Connect syncs contact vCards
// for a device.
func VCardDir(deviceID string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "kpeoplevcard", "kdeconnect-"+deviceID)
}

// EnsureDirs creates the writable directory tree with proper permissions.
func EnsureDirs() error {
	dirs := []string{
		configDir(),
		LogDir(),
		cacheDir(),
		LockDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
