package layer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mapResolver map[string][]Layer

func (m mapResolver) ResolveLayers(name string) ([]Layer, error) {
	layers, ok := m[name]
	if !ok {
		return nil, &unknownEnvError{name}
	}
	return layers, nil
}

type unknownEnvError struct{ name string }

func (e *unknownEnvError) Error() string { return "unknown environment: " + e.name }

func TestFlattenNoReferences(t *testing.T) {
	env := Environment{
		Name: "leaf",
		Layers: []Layer{
			{Type: TypeLayer, Directory: "/a"},
			{Type: TypeLayer, Directory: "/b"},
		},
	}

	got, err := Flatten(env, mapResolver{})
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if diff := cmp.Diff(env.Layers, got.Layers); diff != "" {
		t.Errorf("Flatten of an already-flat environment changed it (-want +got):\n%s", diff)
	}
}

func TestFlattenSplicesReference(t *testing.T) {
	resolver := mapResolver{
		"base": {
			{Type: TypeLayer, Directory: "/base/1"},
			{Type: TypeLayer, Directory: "/base/2"},
		},
	}

	env := Environment{
		Name: "top",
		Layers: []Layer{
			{Type: TypeReference, LowerLayerName: "base"},
			{Type: TypeLayer, Directory: "/top/1"},
		},
	}

	got, err := Flatten(env, resolver)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	want := []Layer{
		{Type: TypeLayer, Directory: "/base/1"},
		{Type: TypeLayer, Directory: "/base/2"},
		{Type: TypeLayer, Directory: "/top/1"},
	}
	if diff := cmp.Diff(want, got.Layers); diff != "" {
		t.Errorf("Flatten splice mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenIsFixpoint(t *testing.T) {
	resolver := mapResolver{
		"base": {{Type: TypeLayer, Directory: "/base"}},
	}
	env := Environment{
		Name:   "top",
		Layers: []Layer{{Type: TypeReference, LowerLayerName: "base"}},
	}

	once, err := Flatten(env, resolver)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	twice, err := Flatten(once, resolver)
	if err != nil {
		t.Fatalf("second Flatten: %v", err)
	}
	if diff := cmp.Diff(once.Layers, twice.Layers); diff != "" {
		t.Errorf("flattening a flat environment is not a fixpoint (-once +twice):\n%s", diff)
	}
}

func TestFlattenDetectsCycle(t *testing.T) {
	resolver := mapResolver{
		"a": {{Type: TypeReference, LowerLayerName: "b"}},
		"b": {{Type: TypeReference, LowerLayerName: "a"}},
	}
	env := Environment{
		Name:   "a",
		Layers: []Layer{{Type: TypeReference, LowerLayerName: "b"}},
	}

	if _, err := Flatten(env, resolver); err == nil {
		t.Fatal("Flatten: want error for cyclic reference, got nil")
	}
}

func TestFlattenRejectsNonBottomImage(t *testing.T) {
	env := Environment{
		Name: "bad",
		Layers: []Layer{
			{Type: TypeLayer, Directory: "/a"},
			{Type: TypeImage, Image: "example/image"},
		},
	}

	if _, err := Flatten(env, mapResolver{}); err == nil {
		t.Fatal("Flatten: want error for Image layer not at index 0, got nil")
	}
}

func TestFlattenAllowsBottomImage(t *testing.T) {
	env := Environment{
		Name: "good",
		Layers: []Layer{
			{Type: TypeImage, Image: "example/image"},
			{Type: TypeLayer, Directory: "/a"},
		},
	}

	got, err := Flatten(env, mapResolver{})
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(got.Layers) != 2 || got.Layers[0].Type != TypeImage {
		t.Errorf("Flatten reordered or dropped layers: %+v", got.Layers)
	}
}

func TestFlattenRejectsMultipleImages(t *testing.T) {
	resolver := mapResolver{
		"other": {{Type: TypeImage, Image: "other/image"}},
	}
	env := Environment{
		Name: "bad",
		Layers: []Layer{
			{Type: TypeImage, Image: "example/image"},
			{Type: TypeReference, LowerLayerName: "other"},
		},
	}

	if _, err := Flatten(env, resolver); err == nil {
		t.Fatal("Flatten: want error for two Image layers, got nil")
	}
}
