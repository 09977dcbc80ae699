//go:build linux

package assemble

import (
	"context"
	"testing"

	"github.com/wormholefs/wormhole/internal/layer"
)

func TestAssembleHideDirectiveSkipsWithoutMounting(t *testing.T) {
	a := New(Options{})
	env := layer.Environment{
		Name: "test",
		Layers: []layer.Layer{
			{
				Type:      layer.TypeLayer,
				Directory: "/nonexistent-source-root",
				Paths: []layer.PathDirective{
					{Kind: layer.Hide, Path: "/foo"},
				},
			},
		},
	}

	got, err := a.Assemble(context.Background(), env)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if a.State() != Ready {
		t.Errorf("State() = %v, want Ready", a.State())
	}
	if got.RootDirectory != "" {
		t.Errorf("RootDirectory = %q, want empty (no Image layer)", got.RootDirectory)
	}
}

func TestAssembleRejectsNonBottomImage(t *testing.T) {
	a := New(Options{})
	env := layer.Environment{
		Name: "test",
		Layers: []layer.Layer{
			{Type: layer.TypeLayer, Directory: "/a"},
			{Type: layer.TypeImage, Image: "example/image"},
		},
	}

	if _, err := a.Assemble(context.Background(), env); err == nil {
		t.Fatal("Assemble: want error for Image layer not at index 0")
	}
	if a.State() != Failed {
		t.Errorf("State() = %v, want Failed", a.State())
	}
}

func TestAssembleRejectsDoubleRun(t *testing.T) {
	a := New(Options{})
	env := layer.Environment{Name: "test"}

	if _, err := a.Assemble(context.Background(), env); err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	if _, err := a.Assemble(context.Background(), env); err == nil {
		t.Fatal("second Assemble: want error, assembler is no longer Configured")
	}
}

type stubRuntime struct {
	rootDir string
}

func (s stubRuntime) ContainerExists(ctx context.Context, localName string) (bool, error) {
	return true, nil
}
func (s stubRuntime) ContainerStart(ctx context.Context, imageRef, localName string) (bool, error) {
	return false, nil
}
func (s stubRuntime) ContainerMount(ctx context.Context, localName string) (string, error) {
	return s.rootDir, nil
}

func TestAssembleImageLayerSetsRootDirectory(t *testing.T) {
	a := New(Options{Runtime: stubRuntime{rootDir: "/mnt/image-root"}})
	env := layer.Environment{
		Name:   "test",
		Layers: []layer.Layer{{Type: layer.TypeImage, Image: "example/image:latest"}},
	}

	got, err := a.Assemble(context.Background(), env)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got.RootDirectory != "/mnt/image-root" {
		t.Errorf("RootDirectory = %q, want /mnt/image-root", got.RootDirectory)
	}
}

func TestAssembleImageWithoutRuntimeFails(t *testing.T) {
	a := New(Options{})
	env := layer.Environment{
		Name:   "test",
		Layers: []layer.Layer{{Type: layer.TypeImage, Image: "example/image"}},
	}

	if _, err := a.Assemble(context.Background(), env); err == nil {
		t.Fatal("Assemble: want error, no runtime configured")
	}
}
