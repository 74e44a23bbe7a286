package material

import "testing"

type fakeTexture struct{ name string }

func (t *fakeTexture) Label() string { return t.name }

func TestMaterialEquality(t *testing.T) {
	tex := &fakeTexture{name: "grass"}
	a := NewMaterial(WithTexture(tex), WithAlpha(Solid))
	b := NewMaterial(WithAlpha(Solid), WithTexture(tex))
	if a != b {
		t.Error("materials built from the same options differ")
	}
	if c := NewMaterial(WithTexture(&fakeTexture{name: "grass"}), WithAlpha(Solid)); c == a {
		t.Error("materials with distinct texture objects compare equal")
	}
	if c := NewMaterial(WithTexture(tex), WithAlpha(Solid), WithWave(0.1)); c == a {
		t.Error("materials with different wave amplitude compare equal")
	}
}

func TestAlphaOrder(t *testing.T) {
	order := []AlphaFunc{Solid, AlphaTest, Water, Multiply, Transparent, AdditiveLight}
	for i := 1; i < len(order); i++ {
		prev, cur := NewMaterial(WithAlpha(order[i-1])), NewMaterial(WithAlpha(order[i]))
		if prev.AlphaOrder() >= cur.AlphaOrder() {
			t.Errorf("%s sorts at or after %s", order[i-1], order[i])
		}
	}
	ghost := NewMaterial(WithAlpha(Solid), WithGhost(true))
	if ghost.AlphaOrder() != NewMaterial(WithAlpha(Transparent)).AlphaOrder() {
		t.Error("ghost material does not sort as transparent")
	}
	if ghost.IsSolid() {
		t.Error("ghost material reports solid")
	}
}

func TestNewMaterialDefaults(t *testing.T) {
	m := NewMaterial()
	if m.Alpha != AlphaTest || m.AlphaWeight != 1 || m.Texture != nil {
		t.Errorf("NewMaterial() = %+v, want AlphaTest, weight 1, no texture", m)
	}
	if !m.IsSolid() {
		t.Error("default material is not solid")
	}
}
