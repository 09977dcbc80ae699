// Package runtimefacade is the container-runtime façade the environment
// assembler calls for Image layers: container_exists, container_start,
// container_mount. The assembler only depends on the Runtime interface,
// never on a concrete runtime.
//
// The concrete implementation shells out to the runtime binary rather
// than linking a container-engine client library, the same way other
// tooling in this codebase invokes external helper binaries (squashfuse,
// dumb-init) via exec.Command instead of a client SDK.
package runtimefacade

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runtime is the container-runtime façade consumed by the assembler.
type Runtime interface {
	// ContainerExists reports whether localName has already been pulled
	// and registered with the runtime.
	ContainerExists(ctx context.Context, localName string) (bool, error)
	// ContainerStart pulls imageRef (if needed) and registers it under
	// localName, returning true if it created a new container.
	ContainerStart(ctx context.Context, imageRef, localName string) (bool, error)
	// ContainerMount returns a host path to localName's root filesystem,
	// valid until an explicit unmount (not modeled here; the caller's
	// process lifetime bounds it in practice).
	ContainerMount(ctx context.Context, localName string) (string, error)
}

// LocalName derives the façade's local container name from an image
// reference: truncate at the first ":" (drop the tag), replace "/" with
// "_", and prefix "wormhole_".
func LocalName(imageRef string) string {
	ref := imageRef
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.ReplaceAll(ref, "/", "_")
	return "wormhole_" + ref
}

// PodmanRuntime implements Runtime by shelling out to the podman CLI, the
// concrete runtime named in design notes.
type PodmanRuntime struct {
	// PodmanPath overrides the binary looked up on PATH, mainly for tests.
	PodmanPath string
}

func (r PodmanRuntime) podman() string {
	if r.PodmanPath != "" {
		return r.PodmanPath
	}
	return "podman"
}

func (r PodmanRuntime) ContainerExists(ctx context.Context, localName string) (bool, error) {
	cmd := exec.CommandContext(ctx, r.podman(), "container", "exists", localName)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("runtimefacade: podman container exists %s: %w", localName, err)
}

func (r PodmanRuntime) ContainerStart(ctx context.Context, imageRef, localName string) (bool, error) {
	exists, err := r.ContainerExists(ctx, localName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	cmd := exec.CommandContext(ctx, r.podman(), "create", "--name", localName, imageRef, "true")
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("runtimefacade: podman create %s: %w: %s", imageRef, err, out)
	}
	return true, nil
}

func (r PodmanRuntime) ContainerMount(ctx context.Context, localName string) (string, error) {
	cmd := exec.CommandContext(ctx, r.podman(), "mount", localName)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("runtimefacade: podman mount %s: %w", localName, err)
	}
	return strings.TrimSpace(string(out)), nil
}
