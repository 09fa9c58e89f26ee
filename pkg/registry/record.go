package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/grovetools/airlock/errors"
)

// Record is the on-disk snapshot of the registry.
type Record struct {
	Channels      map[string]string `json:"channels"`
	Types         map[string]string `json:"types"`
	SessionCounts map[string]int    `json:"sessionCounts"`
	Aliases       map[string]string `json:"aliases"`
	Bindings      map[string]string `json:"bindings"`
	Workspaces    map[string]string `json:"workspaces,omitempty"`
}

func newRecord() Record {
	return Record{
		Channels:      make(map[string]string),
		Types:         make(map[string]string),
		SessionCounts: make(map[string]int),
		Aliases:       make(map[string]string),
		Bindings:      make(map[string]string),
		Workspaces:    make(map[string]string),
	}
}

// fill replaces nil maps left by older or hand-edited files.
func (r *Record) fill() {
	if r.Channels == nil {
		r.Channels = make(map[string]string)
	}
	if r.Types == nil {
		r.Types = make(map[string]string)
	}
	if r.SessionCounts == nil {
		r.SessionCounts = make(map[string]int)
	}
	if r.Aliases == nil {
		r.Aliases = make(map[string]string)
	}
	if r.Bindings == nil {
		r.Bindings = make(map[string]string)
	}
	if r.Workspaces == nil {
		r.Workspaces = make(map[string]string)
	}
}

func (r Record) clone() Record {
	out := newRecord()
	for k, v := range r.Channels {
		out.Channels[k] = v
	}
	for k, v := range r.Types {
		out.Types[k] = v
	}
	for k, v := range r.SessionCounts {
		out.SessionCounts[k] = v
	}
	for k, v := range r.Aliases {
		out.Aliases[k] = v
	}
	for k, v := range r.Bindings {
		out.Bindings[k] = v
	}
	for k, v := range r.Workspaces {
		out.Workspaces[k] = v
	}
	return out
}

func readRecord(path string) (Record, error) {
	rec := newRecord()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, errors.Wrap(err, errors.ErrCodeInternal, "failed to read session registry").
			WithDetail("path", path)
	}
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrap(err, errors.ErrCodeConfigInvalid, "session registry is not valid JSON").
			WithDetail("path", path)
	}
	rec.fill()
	return rec, nil
}

// writeRecord writes the full snapshot to a temp file and renames it over path.
func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode session registry")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create registry directory").
			WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create registry temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write session registry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write session registry")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace session registry").
			WithDetail("path", path)
	}
	return nil
}
