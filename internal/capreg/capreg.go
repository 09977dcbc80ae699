// Package capreg implements the capability registry: a symlink farm
// mapping identifier strings to config paths, used to flatten Reference
// layers and to resolve --base-environment.
//
// It follows the overlay-spec parsing style of small, line-of-business
// path helpers with no external dependency, since no dedicated
// symlink-registry package exists to imitate more directly. The adapter
// composing this registry with a config loader into a full layer.Resolver
// belongs to a binary, not this package — see cmd/wormhole's resolver.
package capreg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/wormholefs/wormhole/internal/capability"
)

// Registry is a directory of symlinks: <dir>/<name>-<version> -> config path.
type Registry struct {
	dir string
}

// Open returns a Registry rooted at dir. The directory is created on first
// Register call if missing; Open itself does not require it to exist yet.
func Open(dir string) *Registry {
	return &Registry{dir: dir}
}

// Register creates (or replaces) the symlink for capability c pointing at
// configPath. Per documented limitation, this is a plain
// unlink-then-symlink sequence: concurrent registrars may race.
func (r *Registry) Register(c capability.Capability, configPath string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("capreg: mkdir %s: %w", r.dir, err)
	}

	link := filepath.Join(r.dir, c.String())
	_ = os.Remove(link)
	if err := os.Symlink(configPath, link); err != nil {
		return fmt.Errorf("capreg: symlink %s -> %s: %w", link, configPath, err)
	}
	return nil
}

// Unregister removes the symlink for c, if present.
func (r *Registry) Unregister(c capability.Capability) error {
	link := filepath.Join(r.dir, c.String())
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("capreg: unlink %s: %w", link, err)
	}
	return nil
}

// Candidates lists every registered capability sharing requirement's name.
func (r *Registry) Candidates(name string) ([]capability.Capability, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("capreg: readdir %s: %w", r.dir, err)
	}

	var out []capability.Capability
	for _, e := range entries {
		c, err := capability.Parse(e.Name())
		if err != nil || c.Name != name {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return capability.Compare(out[i], out[j]) < 0 })
	return out, nil
}

// Resolve follows the symlink registered for requirement, after picking
// the best installed capability satisfying it (capability.Best).
func (r *Registry) Resolve(requirement capability.Capability) (configPath string, matched capability.Capability, err error) {
	candidates, err := r.Candidates(requirement.Name)
	if err != nil {
		return "", capability.Capability{}, err
	}

	best, ok := capability.Best(requirement, candidates)
	if !ok {
		return "", capability.Capability{}, fmt.Errorf("capreg: no registered capability satisfies %s", requirement)
	}

	link := filepath.Join(r.dir, best.String())
	target, err := os.Readlink(link)
	if err != nil {
		return "", capability.Capability{}, fmt.Errorf("capreg: readlink %s: %w", link, err)
	}
	return target, best, nil
}

// Composing a layer.Resolver out of a Registry also requires the config
// loader (to parse whatever file Resolve points at into an Environment),
// so that adapter lives with the wrapper/digger binaries that already
// depend on both capreg and wormholeconf, rather than here.
