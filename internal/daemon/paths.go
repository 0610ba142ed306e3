package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/npratt/gamepilot/internal/config"
)

// Info is written to daemon.json so CLI commands can find a running daemon
// from any subdirectory of the project.
type Info struct {
	SocketPath string    `json:"socket_path"`
	PIDPath    string    `json:"pid_path"`
	StatePath  string    `json:"state_path"`
	LogPath    string    `json:"log_path"`
	BackendURL string    `json:"backend_url"`
	StartTime  time.Time `json:"start_time"`
	PID        int       `json:"pid"`
}

const infoFile = "daemon.json"

// projectMarkers are directories that indicate the project root.
var projectMarkers = []string{".gamepilot", ".git"}

// ResolvePaths makes every configured path absolute relative to basePath, or
// the working directory when basePath is empty.
func ResolvePaths(paths config.PathsConfig, basePath string) (config.PathsConfig, error) {
	if basePath == "" {
		var err error
		basePath, err = os.Getwd()
		if err != nil {
			return paths, fmt.Errorf("get working directory: %w", err)
		}
	}

	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(basePath, p)
	}

	return config.PathsConfig{
		State:     resolve(paths.State),
		Log:       resolve(paths.Log),
		Socket:    resolve(paths.Socket),
		PID:       resolve(paths.PID),
		Selection: resolve(paths.Selection),
		DebugLog:  resolve(paths.DebugLog),
	}, nil
}

// FindProjectRoot walks up from startDir to the first directory holding a
// project marker. Without a marker it returns startDir made absolute.
func FindProjectRoot(startDir string) string {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return "."
		}
	}
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}

	for dir := absDir; ; {
		for _, marker := range projectMarkers {
			if fi, err := os.Stat(filepath.Join(dir, marker)); err == nil && fi.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir
		}
		dir = parent
	}
}

// InfoPath returns the daemon.json path under the project root.
func InfoPath(projectRoot string) string {
	return filepath.Join(projectRoot, config.ProjectConfigDir, infoFile)
}

// FindInfo loads daemon.json for the project containing startDir.
func FindInfo(startDir string) (*Info, error) {
	path := InfoPath(FindProjectRoot(startDir))
	info, err := ReadInfo(path)
	if err != nil {
		return nil, fmt.Errorf("daemon info not found (checked %s): %w", path, err)
	}
	return info, nil
}

// SocketFor returns the socket of the daemon serving the project that
// contains startDir, or fallback when no daemon.json exists.
func SocketFor(startDir, fallback string) string {
	if info, err := FindInfo(startDir); err == nil && info.SocketPath != "" {
		return info.SocketPath
	}
	return fallback
}

// WriteInfo writes daemon.json atomically.
func WriteInfo(path string, info *Info) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal daemon info: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write daemon info: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write daemon info: %w", err)
	}
	return nil
}

// ReadInfo reads daemon.json.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read daemon info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal daemon info: %w", err)
	}
	return &info, nil
}

// RemoveInfo removes daemon.json. A missing file is not an error.
func RemoveInfo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove daemon info: %w", err)
	}
	return nil
}
