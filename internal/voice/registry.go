package voice

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// RegistryVersion is written to new registry files.
const RegistryVersion = 1

// Status is the curation state of a registry entry.
type Status string

const (
	StatusMapped  Status = "mapped"
	StatusPending Status = "pending"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusMapped || s == StatusPending
}

// ArchetypeVoices lists the provider voice handles curated for an archetype.
type ArchetypeVoices struct {
	Voices map[string]string `yaml:"voices,omitempty"`
	Status Status            `yaml:"status"`
}

// CharacterEntry records which archetype a character was assigned.
type CharacterEntry struct {
	Archetype string `yaml:"archetype,omitempty"`
	Status    Status `yaml:"status"`
}

// registryFile is the on-disk layout.
type registryFile struct {
	Version    int                        `yaml:"version"`
	Archetypes map[string]ArchetypeVoices `yaml:"archetypes"`
	Characters map[string]CharacterEntry  `yaml:"characters"`
}

// Registry maps archetypes to provider voice handles and characters to
// archetypes. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	version    int
	archetypes map[string]ArchetypeVoices
	characters map[string]CharacterEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		version:    RegistryVersion,
		archetypes: make(map[string]ArchetypeVoices),
		characters: make(map[string]CharacterEntry),
	}
}

// LoadRegistry reads a registry file. A missing file is reported with an
// error wrapping [os.ErrNotExist].
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("voice: open registry %q: %w", path, err)
	}
	defer f.Close()

	r, err := LoadRegistryFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("voice: load registry %q: %w", path, err)
	}
	return r, nil
}

// LoadRegistryFromReader parses registry YAML from r.
func LoadRegistryFromReader(r io.Reader) (*Registry, error) {
	var rf registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("voice: decode registry yaml: %w", err)
	}

	var errs []error
	for id, a := range rf.Archetypes {
		if !a.Status.IsValid() {
			errs = append(errs, fmt.Errorf("archetype %q: invalid status %q", id, a.Status))
		}
	}
	for id, c := range rf.Characters {
		if !c.Status.IsValid() {
			errs = append(errs, fmt.Errorf("character %q: invalid status %q", id, c.Status))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("voice: invalid registry: %w", err)
	}

	reg := NewRegistry()
	if rf.Version != 0 {
		reg.version = rf.Version
	}
	for id, a := range rf.Archetypes {
		a.Voices = maps.Clone(a.Voices)
		reg.archetypes[id] = a
	}
	maps.Copy(reg.characters, rf.Characters)
	return reg, nil
}

// WriteTo encodes the registry as YAML. Map keys are emitted sorted so the
// output is stable.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	rf := registryFile{
		Version:    r.version,
		Archetypes: make(map[string]ArchetypeVoices, len(r.archetypes)),
		Characters: maps.Clone(r.characters),
	}
	for id, a := range r.archetypes {
		a.Voices = maps.Clone(a.Voices)
		rf.Archetypes[id] = a
	}
	r.mu.RUnlock()

	cw := &countingWriter{w: w}
	enc := yaml.NewEncoder(cw)
	enc.SetIndent(2)
	if err := enc.Encode(rf); err != nil {
		return cw.n, fmt.Errorf("voice: encode registry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return cw.n, fmt.Errorf("voice: encode registry: %w", err)
	}
	return cw.n, nil
}

// Save writes the registry to path atomically via a temporary file in the
// same directory.
func (r *Registry) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("voice: save registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := r.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("voice: save registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("voice: save registry: %w", err)
	}
	return nil
}

// Version returns the document version.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// VoiceFor returns the voice handle registered for archetypeID on provider.
// Entries still pending curation are ignored.
func (r *Registry) VoiceFor(archetypeID, provider string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.archetypes[archetypeID]
	if !ok || a.Status != StatusMapped {
		return "", false
	}
	h, ok := a.Voices[provider]
	return h, ok && h != ""
}

// SetVoice registers handle for archetypeID on provider and marks the
// archetype mapped.
func (r *Registry) SetVoice(archetypeID, provider, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.archetypes[archetypeID]
	if a.Voices == nil {
		a.Voices = make(map[string]string)
	}
	a.Voices[provider] = handle
	a.Status = StatusMapped
	r.archetypes[archetypeID] = a
}

// Character returns the registry entry for characterID.
func (r *Registry) Character(characterID string) (CharacterEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.characters[characterID]
	return c, ok
}

// Assign maps characterID to archetypeID. An empty archetypeID records the
// character as pending.
func (r *Registry) Assign(characterID, archetypeID string) error {
	if characterID == "" {
		return errors.New("voice: character id is required")
	}
	entry := CharacterEntry{Archetype: archetypeID, Status: StatusMapped}
	if archetypeID == "" {
		entry.Status = StatusPending
	}
	r.mu.Lock()
	r.characters[characterID] = entry
	r.mu.Unlock()
	return nil
}

// Archetypes returns a copy of the archetype table.
func (r *Registry) Archetypes() map[string]ArchetypeVoices {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ArchetypeVoices, len(r.archetypes))
	for id, a := range r.archetypes {
		a.Voices = maps.Clone(a.Voices)
		out[id] = a
	}
	return out
}

// Characters returns a copy of the character table.
func (r *Registry) Characters() map[string]CharacterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.characters)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
