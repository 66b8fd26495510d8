package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/komodoctl/komodoctl/internal/protocol"
)

// File is the on-disk profile file.
type File struct {
	Current  string              `yaml:"current,omitempty"`
	Profiles map[string]*Profile `yaml:"profiles,omitempty"`
}

// Profile stores the connection details for one Komodo core.
type Profile struct {
	Name       string              `yaml:"-"`
	Address    string              `yaml:"address"`
	Credential protocol.Credential `yaml:"credential"`
	TLS        *TLSOptions         `yaml:"tls,omitempty"`
	UpdatedAt  time.Time           `yaml:"updated_at,omitempty"`
}

// TLSOptions contains optional TLS overrides for https cores.
type TLSOptions struct {
	Insecure   bool   `yaml:"insecure,omitempty"`
	CACertPath string `yaml:"ca_cert_path,omitempty"`
	ServerName string `yaml:"server_name,omitempty"`
}

// Profile returns the named profile, or nil.
func (f *File) Profile(name string) *Profile {
	if f == nil || f.Profiles == nil {
		return nil
	}
	p := f.Profiles[name]
	if p != nil {
		p.Name = name
	}
	return p
}

// Set stores p under p.Name and makes it current.
func (f *File) Set(p Profile) {
	if p.Name == "" {
		p.Name = DefaultProfile
	}
	if f.Profiles == nil {
		f.Profiles = make(map[string]*Profile)
	}
	p.UpdatedAt = time.Now().UTC()
	f.Profiles[p.Name] = &p
	f.Current = p.Name
}

// Delete removes the named profile and reports whether it existed.
func (f *File) Delete(name string) bool {
	if _, ok := f.Profiles[name]; !ok {
		return false
	}
	delete(f.Profiles, name)
	if f.Current == name {
		f.Current = ""
	}
	return true
}

// Names returns the stored profile names in order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the stored profile file. If the file does not exist,
// (nil, nil) is returned.
func Load() (*File, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: decode file: %w", err)
	}
	for name, p := range f.Profiles {
		if p != nil {
			p.Name = name
		}
	}
	return &f, nil
}

// Save persists f, creating intermediate directories as needed. The file
// holds credentials and is written with mode 0600.
func Save(f *File) error {
	if f == nil {
		return errors.New("config: file is nil")
	}

	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	encoded, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: encode file: %w", err)
	}

	if err := os.WriteFile(p, encoded, 0o600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// Remove deletes the profile file. It is not considered an error when the
// file does not exist.
func Remove() error {
	if err := os.Remove(Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: remove file: %w", err)
	}
	return nil
}
