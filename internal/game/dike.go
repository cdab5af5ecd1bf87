package game

import (
	"fmt"
	"math"
	"sort"
)

// Material is a dike layer tier. Its max health comes from the session's
// MaterialTable.
type Material string

// MaterialTable maps each buildable material to the health of a fresh layer.
type MaterialTable map[Material]float64

// NewMaterialTable converts the config map into a MaterialTable.
func NewMaterialTable(health map[string]float64) MaterialTable {
	t := make(MaterialTable, len(health))
	for name, hp := range health {
		t[Material(name)] = hp
	}
	return t
}

// Lookup returns the max health for m.
func (t MaterialTable) Lookup(m Material) (float64, error) {
	hp, ok := t[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMaterial, string(m))
	}
	return hp, nil
}

// Names returns the materials in stable order.
func (t MaterialTable) Names() []Material {
	names := make([]Material, 0, len(t))
	for m := range t {
		names = append(names, m)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Layer is one unit of dike height.
type Layer struct {
	CurrentHealth float64  `json:"health"`
	MaxHealth     float64  `json:"maxHealth"`
	Material      Material `json:"material"`
}

// HealthPercent returns current health as a 0-100 percentage.
func (l Layer) HealthPercent() float64 {
	if l.MaxHealth <= 0 {
		return 0
	}
	return l.CurrentHealth / l.MaxHealth * 100
}

// AttackResult describes what an attack did to the top layer.
type AttackResult struct {
	Hit       bool    // false when the stack was empty
	Destroyed bool    // the top layer reached zero and was removed
	Applied   float64 // damage actually absorbed, never more than the layer had
	Layer     Layer   // top layer after the hit (before removal when destroyed)
	Remaining int     // layer count after the hit
}

// Dike is a bottom-to-top stack of layers. Only the top layer is ever
// damaged or removed, and layers are only appended at the top.
type Dike struct {
	layers      []Layer
	layerHeight float64
	maxLayers   int
	materials   MaterialTable
}

// NewDike creates an empty stack.
func NewDike(layerHeight float64, maxLayers int, materials MaterialTable) *Dike {
	return &Dike{
		layers:      make([]Layer, 0, 8),
		layerHeight: layerHeight,
		maxLayers:   maxLayers,
		materials:   materials,
	}
}

// Build appends a full-health layer of material m.
func (d *Dike) Build(m Material) (Layer, error) {
	hp, err := d.materials.Lookup(m)
	if err != nil {
		return Layer{}, err
	}
	if d.maxLayers > 0 && len(d.layers) >= d.maxLayers {
		return Layer{}, ErrDikeFull
	}

	layer := Layer{CurrentHealth: hp, MaxHealth: hp, Material: m}
	d.layers = append(d.layers, layer)
	return layer, nil
}

// Attack subtracts damage from the top layer, removing it at zero health.
// Attacking an empty stack is a no-op.
func (d *Dike) Attack(damage float64) (AttackResult, error) {
	if !(damage > 0) || math.IsInf(damage, 0) {
		return AttackResult{}, ErrInvalidDamage
	}
	if len(d.layers) == 0 {
		return AttackResult{}, nil
	}

	top := &d.layers[len(d.layers)-1]
	applied := math.Min(damage, top.CurrentHealth)
	top.CurrentHealth = math.Max(0, top.CurrentHealth-damage)

	result := AttackResult{Hit: true, Applied: applied, Layer: *top}
	if top.CurrentHealth == 0 {
		d.RemoveTop()
		result.Destroyed = true
	}
	result.Remaining = len(d.layers)
	return result, nil
}

// RemoveTop pops the top layer. It reports false on an empty stack.
func (d *Dike) RemoveTop() (Layer, bool) {
	if len(d.layers) == 0 {
		return Layer{}, false
	}
	top := d.layers[len(d.layers)-1]
	d.layers = d.layers[:len(d.layers)-1]
	return top, true
}

// Seed clears the stack and lays a single full-health layer of m.
func (d *Dike) Seed(m Material) error {
	d.Clear()
	_, err := d.Build(m)
	return err
}

// Clear removes every layer.
func (d *Dike) Clear() {
	d.layers = d.layers[:0]
}

// Len returns the layer count.
func (d *Dike) Len() int { return len(d.layers) }

// TotalHeight is layer count times the session's layer height.
func (d *Dike) TotalHeight() float64 {
	return float64(len(d.layers)) * d.layerHeight
}

// Top returns the layer that would take the next hit.
func (d *Dike) Top() (Layer, bool) {
	if len(d.layers) == 0 {
		return Layer{}, false
	}
	return d.layers[len(d.layers)-1], true
}

// Layers returns a copy of the stack, bottom first.
func (d *Dike) Layers() []Layer {
	out := make([]Layer, len(d.layers))
	copy(out, d.layers)
	return out
}
