package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

// Marker is the decoded liveness marker.
type Marker struct {
	PID       int
	CreatedAt time.Time
}

// WriteMarker creates the liveness marker holding pid. The file is created
// exclusively: if a marker already exists and names a live process other
// than pid, an AlreadyRunning error is returned. A stale marker (dead or
// unreadable PID) is replaced.
func (s *Store) WriteMarker(pid int) error {
	if err := os.MkdirAll(filepath.Dir(s.markerPath), 0o750); err != nil {
		return derrors.IOFailed(OpWriteMarker, s.markerPath, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.markerPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(pid))
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(s.markerPath)
				return derrors.IOFailed(OpWriteMarker, s.markerPath, werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return derrors.IOFailed(OpWriteMarker, s.markerPath, err)
		}

		existing, rerr := s.ReadMarker()
		if rerr == nil && existing.PID != pid && ProcessAlive(existing.PID) {
			return derrors.AlreadyRunning(existing.PID)
		}
		if err := os.Remove(s.markerPath); err != nil && !os.IsNotExist(err) {
			return derrors.IOFailed(OpWriteMarker, s.markerPath, err)
		}
	}
	return derrors.IOFailed(OpWriteMarker, s.markerPath, fmt.Errorf("marker recreated concurrently"))
}

// ReadMarker reads the liveness marker. A missing marker yields an error for
// which os.IsNotExist (via errors.Is with fs.ErrNotExist) holds.
func (s *Store) ReadMarker() (Marker, error) {
	data, err := os.ReadFile(s.markerPath)
	if err != nil {
		return Marker{}, derrors.IOFailed(OpReadMarker, s.markerPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return Marker{}, derrors.IOFailed(OpReadMarker, s.markerPath, fmt.Errorf("invalid pid %q", strings.TrimSpace(string(data))))
	}
	m := Marker{PID: pid}
	if info, err := os.Stat(s.markerPath); err == nil {
		m.CreatedAt = info.ModTime()
	}
	return m, nil
}

// MarkerExists reports whether a marker file is present, regardless of its
// content.
func (s *Store) MarkerExists() bool {
	_, err := os.Stat(s.markerPath)
	return err == nil
}

// RemoveMarker deletes the liveness marker. A missing marker is not an error.
func (s *Store) RemoveMarker() error {
	if err := os.Remove(s.markerPath); err != nil && !os.IsNotExist(err) {
		return derrors.IOFailed(OpRemoveMarker, s.markerPath, err)
	}
	return nil
}
