package models

import (
	"encoding/json"
	"fmt"
)

const (
	MetadataKeyGenerationHistory = "generationHistory"
	MetadataKeySoraIdentity      = "soraIdentity"
	MetadataKeySoraGeneration    = "soraGeneration"
)

// Metadata is a free-form JSON object attached to shots, scenes and
// characters. Typed sub-records are read and written through accessors, and
// a setter only replaces its own key so that unknown keys written by other
// features survive a round trip.
type Metadata map[string]json.RawMessage

// ParseMetadata decodes a stored JSON object. Empty input yields an empty map.
func ParseMetadata(data []byte) (Metadata, error) {
	m := Metadata{}
	if len(data) == 0 || string(data) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return m, nil
}

// Encode returns the JSON text of m, "{}" when empty.
func (m Metadata) Encode() (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]json.RawMessage(m))
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// Clone returns a shallow copy safe for independent key writes.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge overlays every key of patch onto m.
func (m Metadata) Merge(patch Metadata) {
	for k, v := range patch {
		m[k] = v
	}
}

func (m Metadata) decode(key string, v any) (bool, error) {
	raw, ok := m[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode metadata %s: %w", key, err)
	}
	return true, nil
}

func (m Metadata) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

// GenerationHistory returns the shot history, newest first.
func (m Metadata) GenerationHistory() ([]GenerationHistoryEntry, error) {
	var entries []GenerationHistoryEntry
	if _, err := m.decode(MetadataKeyGenerationHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m Metadata) SetGenerationHistory(entries []GenerationHistoryEntry) error {
	return m.set(MetadataKeyGenerationHistory, entries)
}

// SoraIdentity returns the stored identity, or a zero identity when unset.
func (m Metadata) SoraIdentity() (SoraIdentity, error) {
	var id SoraIdentity
	if _, err := m.decode(MetadataKeySoraIdentity, &id); err != nil {
		return SoraIdentity{}, err
	}
	if err := id.Validate(); err != nil {
		return SoraIdentity{}, err
	}
	return id, nil
}

func (m Metadata) SetSoraIdentity(id SoraIdentity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return m.set(MetadataKeySoraIdentity, id)
}

// SoraGeneration returns the scene aggregate; ok is false when none is stored.
func (m Metadata) SoraGeneration() (gen SoraGeneration, ok bool, err error) {
	ok, err = m.decode(MetadataKeySoraGeneration, &gen)
	return gen, ok, err
}

func (m Metadata) SetSoraGeneration(gen SoraGeneration) error {
	return m.set(MetadataKeySoraGeneration, gen)
}
