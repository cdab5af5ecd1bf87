package game

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterials() MaterialTable {
	return NewMaterialTable(map[string]float64{"stone": 100, "iron": 200})
}

// Three hits of 40 on a fresh stone layer leave nothing standing.
func TestDikeAttackDestroysTopLayer(t *testing.T) {
	d := NewDike(1, 10, testMaterials())
	require.NoError(t, d.Seed("stone"))

	r1, err := d.Attack(40)
	require.NoError(t, err)
	assert.True(t, r1.Hit)
	assert.False(t, r1.Destroyed)
	assert.Equal(t, 60.0, r1.Layer.CurrentHealth)

	r2, err := d.Attack(40)
	require.NoError(t, err)
	assert.Equal(t, 20.0, r2.Layer.CurrentHealth)
	assert.Equal(t, 20.0, r2.Layer.HealthPercent())

	r3, err := d.Attack(40)
	require.NoError(t, err)
	assert.True(t, r3.Destroyed)
	assert.Equal(t, 0.0, r3.Layer.CurrentHealth)
	assert.Equal(t, 20.0, r3.Applied)
	assert.Equal(t, 0, r3.Remaining)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0.0, d.TotalHeight())
}

func TestDikeAttackEmptyIsNoop(t *testing.T) {
	d := NewDike(1, 10, testMaterials())

	r, err := d.Attack(10)
	require.NoError(t, err)
	assert.False(t, r.Hit)
	assert.Equal(t, 0, d.Len())
}

func TestDikeRemoveTop(t *testing.T) {
	d := NewDike(1, 10, testMaterials())

	_, ok := d.RemoveTop()
	assert.False(t, ok)

	require.NoError(t, d.Seed("stone"))
	_, err := d.Build("iron")
	require.NoError(t, err)

	top, ok := d.RemoveTop()
	require.True(t, ok)
	assert.Equal(t, Material("iron"), top.Material)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1.0, d.TotalHeight())

	next, ok := d.Top()
	require.True(t, ok)
	assert.Equal(t, Material("stone"), next.Material)
}

func TestDikeAttackRejectsBadDamage(t *testing.T) {
	d := NewDike(1, 10, testMaterials())
	require.NoError(t, d.Seed("stone"))

	for _, dmg := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := d.Attack(dmg)
		assert.ErrorIs(t, err, ErrInvalidDamage, "damage %v", dmg)
		assert.ErrorIs(t, err, ErrInvalidCommand)
	}
	top, ok := d.Top()
	require.True(t, ok)
	assert.Equal(t, 100.0, top.CurrentHealth)
}

func TestDikeOnlyTopLayerTakesDamage(t *testing.T) {
	d := NewDike(0.5, 10, testMaterials())
	require.NoError(t, d.Seed("stone"))
	_, err := d.Build("iron")
	require.NoError(t, err)

	_, err = d.Attack(150)
	require.NoError(t, err)

	layers := d.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, 100.0, layers[0].CurrentHealth)
	assert.Equal(t, 50.0, layers[1].CurrentHealth)
	assert.Equal(t, 1.0, d.TotalHeight())
}

func TestDikeBuild(t *testing.T) {
	tests := []struct {
		name     string
		material Material
		max      int
		existing int
		wantErr  error
	}{
		{"stone", "stone", 5, 0, nil},
		{"iron", "iron", 5, 2, nil},
		{"unknown material", "wood", 5, 0, ErrInvalidMaterial},
		{"at cap", "stone", 3, 3, ErrDikeFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDike(1, tt.max, testMaterials())
			for i := 0; i < tt.existing; i++ {
				_, err := d.Build("stone")
				require.NoError(t, err)
			}

			layer, err := d.Build(tt.material)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.existing, d.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, layer.MaxHealth, layer.CurrentHealth)
			assert.Equal(t, tt.existing+1, d.Len())
			assert.Equal(t, float64(tt.existing+1), d.TotalHeight())
		})
	}
}

func TestDikeLayersIsACopy(t *testing.T) {
	d := NewDike(1, 10, testMaterials())
	require.NoError(t, d.Seed("stone"))

	layers := d.Layers()
	layers[0].CurrentHealth = 1

	top, _ := d.Top()
	assert.Equal(t, 100.0, top.CurrentHealth)
}

func TestMaterialTableNamesSorted(t *testing.T) {
	assert.Equal(t, []Material{"iron", "stone"}, testMaterials().Names())
}
