package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/kv"
)

var (
	ErrPresetNotFound = errors.New("filter preset not found")
	ErrPresetName     = errors.New("filter preset name is required")
)

// Preset is a named, opaque snapshot of search text and filters.
type Preset struct {
	Name    string  `json:"name"`
	Search  string  `json:"search,omitempty"`
	Filters Filters `json:"filters"`
}

// Presets persists the saved presets of one owner as a JSON list in a kv.Store.
type Presets struct {
	store kv.Store
	key   string
}

func NewPresets(store kv.Store, owner string) *Presets {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = "default"
	}
	return &Presets{store: store, key: "appointment-filter-presets:" + owner}
}

func (p *Presets) List(ctx context.Context) ([]Preset, error) {
	raw, err := p.store.Get(ctx, p.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []Preset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	var presets []Preset
	if err := json.Unmarshal(raw, &presets); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return presets, nil
}

// Save snapshots the view's search and filters under name. Saving an existing
// name replaces that preset in place. The resource selection is not captured.
func (p *Presets) Save(ctx context.Context, name string, v View) (Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Preset{}, ErrPresetName
	}
	presets, err := p.List(ctx)
	if err != nil {
		return Preset{}, err
	}
	snapshot := Preset{Name: name, Search: v.Search, Filters: v.Filters.clone()}
	snapshot.Filters.Resources = nil

	replaced := false
	for i := range presets {
		if presets[i].Name == name {
			presets[i] = snapshot
			replaced = true
			break
		}
	}
	if !replaced {
		presets = append(presets, snapshot)
	}
	return snapshot, p.write(ctx, presets)
}

func (p *Presets) Delete(ctx context.Context, index int) error {
	presets, err := p.List(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(presets) {
		return fmt.Errorf("%w: index %d", ErrPresetNotFound, index)
	}
	presets = append(presets[:index], presets[index+1:]...)
	return p.write(ctx, presets)
}

func (p *Presets) write(ctx context.Context, presets []Preset) error {
	raw, err := json.Marshal(presets)
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	if err := p.store.Set(ctx, p.key, raw); err != nil {
		return fmt.Errorf("store presets: %w", err)
	}
	return nil
}
