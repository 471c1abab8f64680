package extraction

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// markerSuffix names the sentinel that sits next to a payload while it is
// being written. A payload with a sentinel is never treated as complete.
const markerSuffix = ".inprogress"

func markerPath(payloadPath string) string { return payloadPath + markerSuffix }

// InProgress reports whether an extraction into payloadPath started and never finished.
func InProgress(payloadPath string) bool {
	_, err := os.Stat(markerPath(payloadPath))
	return err == nil
}

// Complete reports whether payloadPath is a regular file with no pending marker.
func Complete(payloadPath string) bool {
	info, err := os.Stat(payloadPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return !InProgress(payloadPath)
}

func beginMarker(payloadPath string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	return os.WriteFile(markerPath(payloadPath), []byte(stamp+"\n"), 0644)
}

func clearMarker(payloadPath string) error {
	err := os.Remove(markerPath(payloadPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
