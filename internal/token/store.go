package token

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// State is the OAuth2 credential set owned by the Manager. It is replaced
// wholesale on every successful grant.
type State struct {
	AccessToken  string
	RefreshToken string
	AccessExpiry time.Time
}

// Valid reports whether the access token can still be used at now, leaving
// margin before the expiry. The boundary itself is invalid.
func (s State) Valid(now time.Time, margin time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	return now.Before(s.AccessExpiry.Add(-margin))
}

// Store persists token state between runs.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// record is the on-disk shape: exactly three fields, expiry as float epoch
// seconds.
type record struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	AccessExpiry float64 `json:"access_expiry"`
}

func toRecord(s State) record {
	return record{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		AccessExpiry: epochSeconds(s.AccessExpiry),
	}
}

func (r record) state() State {
	return State{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		AccessExpiry: fromEpochSeconds(r.AccessExpiry),
	}
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpochSeconds(secs float64) time.Time {
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

// FileStore keeps token state in a JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

// Load reads the token file. A missing file is not an error and yields the
// empty state.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read token file: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return State{}, fmt.Errorf("parse token file %s: %w", f.path, err)
	}

	return r.state(), nil
}

// Save writes the state to a temporary file in the same directory and
// renames it over the target, so readers never see a partial file.
func (f *FileStore) Save(s State) error {
	data, err := json.Marshal(toRecord(s))
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write token file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync token file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close token file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token file: %w", err)
	}

	return nil
}
