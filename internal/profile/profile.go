// Package profile stores named, immutable tunnel configurations and the
// pointer to the active one.
package profile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"hubctl/internal/store"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrExists      = errors.New("profile already exists")
	ErrInvalidName = errors.New("invalid profile name")
	ErrEmptyConfig = errors.New("profile config is empty")
)

const (
	// ActiveConfig is the materialized copy the gateway mounts.
	ActiveConfig = "active.conf"
	pointerFile  = ".active.yaml"
	ext          = ".conf"

	// DefaultName is used when an imported config carries no usable name.
	DefaultName = "vpn-profile"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Profile is one stored configuration.
type Profile struct {
	Name   string
	Config []byte
	Path   string
}

// Pointer names the active profile.
type Pointer struct {
	Name        string    `yaml:"name"`
	ActivatedAt time.Time `yaml:"activated_at"`
}

// Store is a directory of <name>.conf files.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func ValidateName(name string) error {
	if name == strings.TrimSuffix(ActiveConfig, ext) || !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+ext)
}

// List returns the stored profile names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || n == ActiveConfig || !strings.HasSuffix(n, ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ext))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Get(name string) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	p := s.path(name)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Profile{}, err
	}
	return Profile{Name: name, Config: data, Path: p}, nil
}

// Import writes a new profile. Existing profiles are never overwritten.
func (s *Store) Import(name string, config []byte) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	if len(bytes.TrimSpace(config)) == 0 {
		return Profile{}, ErrEmptyConfig
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return Profile{}, err
	}
	p := s.path(name)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return Profile{}, fmt.Errorf("%s: %w", name, ErrExists)
	}
	if err != nil {
		return Profile{}, err
	}
	data := bytes.ReplaceAll(config, []byte("\r"), nil)
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return Profile{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return Profile{}, err
	}
	return Profile{Name: name, Config: data, Path: p}, nil
}

// Delete removes a profile. A missing profile is not an error. The active
// pointer is never touched.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Active returns the active profile name, or "" when none was ever set.
func (s *Store) Active() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, pointerFile))
	switch {
	case err == nil:
		var ptr Pointer
		if err := yaml.Unmarshal(data, &ptr); err != nil {
			return "", fmt.Errorf("parse active pointer: %w", err)
		}
		return ptr.Name, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	// Older deployments kept active.conf as a symlink to the profile.
	target, err := os.Readlink(filepath.Join(s.dir, ActiveConfig))
	if err != nil {
		return "", nil
	}
	return strings.TrimSuffix(filepath.Base(target), ext), nil
}

// SetActive materializes name as active.conf and then records the pointer.
func (s *Store) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(name)
	if err != nil {
		return err
	}
	active := filepath.Join(s.dir, ActiveConfig)
	// Rename replaces a legacy symlink itself, never its target.
	if err := store.WriteFileAtomic(active, p.Config, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", ActiveConfig, err)
	}
	data, err := yaml.Marshal(Pointer{Name: name, ActivatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := store.WriteFileAtomic(filepath.Join(s.dir, pointerFile), data, 0o600); err != nil {
		return fmt.Errorf("write active pointer: %w", err)
	}
	return nil
}

// ExtractName derives a profile name from the config comments: a comment in
// the [Peer] section first, then any comment that is not a key=value line.
// Characters outside the name alphabet are dropped.
func ExtractName(config []byte) string {
	var peer, other string
	inPeer := false
	sc := bufio.NewScanner(bytes.NewReader(config))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.EqualFold(line, "[peer]"):
			inPeer = true
			continue
		case strings.HasPrefix(line, "["):
			inPeer = false
			continue
		case !strings.HasPrefix(line, "#"):
			continue
		}
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if text == "" || strings.Contains(text, "=") || len(text) >= 50 {
			continue
		}
		if inPeer && peer == "" {
			peer = text
		}
		if other == "" {
			other = text
		}
	}
	for _, cand := range []string{peer, other} {
		if n := safeName(cand); n != "" {
			return n
		}
	}
	return DefaultName
}

func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	n := b.String()
	if len(n) > 64 {
		n = n[:64]
	}
	if ValidateName(n) != nil {
		return ""
	}
	return n
}

// EndpointOf returns the value of the first Endpoint key in config.
func EndpointOf(config []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(config))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "endpoint") {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
