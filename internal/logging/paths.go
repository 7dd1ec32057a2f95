package logging

import (
	"os"
	"path/filepath"
)

// LogDirEnv overrides the default log directory.
const LogDirEnv = "AMANSEARCH_LOG_DIR"

// DefaultLogDir is $AMANSEARCH_LOG_DIR, else ~/.amansearch/logs, else a
// directory under the system temp dir when there is no home.
func DefaultLogDir() string {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".amansearch", "logs")
	}
	return filepath.Join(os.TempDir(), ".amansearch", "logs")
}

// DefaultLogPath is amansearch.log in DefaultLogDir.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amansearch.log")
}
