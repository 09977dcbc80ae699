package wormholeconf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/wormholefs/wormhole/internal/layer"
)

// Logger receives one line per obsolete-alias keyword, the first time
// that keyword is rewritten during a Load.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Profile is a parsed "profile NAME { ... }" block.
type Profile struct {
	Name        string
	Wrapper     string
	Command     string
	Environment string
}

// Config is the fully loaded, include-resolved contents of one or more
// config files.
type Config struct {
	ClientPath   string
	Profiles     []Profile
	Environments []layer.Environment
}

// EnvironmentByName is a convenience lookup used by flattening resolvers.
func (c *Config) EnvironmentByName(name string) (layer.Environment, bool) {
	for _, e := range c.Environments {
		if e.Name == name {
			return e, true
		}
	}
	return layer.Environment{}, false
}

// Load parses the config file at path (or, for a directory, each
// non-directory entry in name order; subdirectories are not descended)
// and returns the fully resolved Config.
func Load(path string, logger Logger) (*Config, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	c := &Config{}
	seen := map[string]bool{}
	if err := loadInto(c, path, logger, seen); err != nil {
		return nil, err
	}
	return c, nil
}

func loadInto(c *Config, path string, logger Logger, legacyWarned map[string]bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("wormholeconf: %s: %w", path, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("wormholeconf: %s: %w", path, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := loadInto(c, filepath.Join(path, name), logger, legacyWarned); err != nil {
				return err
			}
		}
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("wormholeconf: %s: %w", path, err)
	}

	f, err := parseFile(path, string(content))
	if err != nil {
		return fmt.Errorf("wormholeconf: %s: %w", path, err)
	}

	for _, it := range f.Items {
		switch {
		case it.Include != "":
			includePath := it.Include
			if !filepath.IsAbs(includePath) {
				includePath = filepath.Join(filepath.Dir(path), includePath)
			}
			if err := loadInto(c, includePath, logger, legacyWarned); err != nil {
				return fmt.Errorf("included from %s: %w", path, err)
			}

		case it.ClientPath != "":
			c.ClientPath = it.ClientPath

		case it.Profile != nil:
			c.Profiles = append(c.Profiles, convertProfile(it.Profile))

		case it.Environment != nil:
			env, err := convertEnvironment(it.Environment, logger, legacyWarned)
			if err != nil {
				return fmt.Errorf("%s: environment %s: %w", path, it.Environment.Name, err)
			}
			c.Environments = append(c.Environments, env)
		}
	}
	return nil
}

func convertProfile(p *profileBlock) Profile {
	out := Profile{Name: p.Name}
	for _, d := range p.Directives {
		switch d.Keyword {
		case "wrapper":
			out.Wrapper = d.Value
		case "command":
			out.Command = d.Value
		case "environment":
			out.Environment = d.Value
		}
	}
	return out
}

func convertEnvironment(e *environmentBlock, logger Logger, legacyWarned map[string]bool) (layer.Environment, error) {
	env := layer.Environment{Name: e.Name}

	for _, d := range e.Directives {
		switch {
		case d.Provides != "":
			env.Provides = append(env.Provides, d.Provides)
		case d.Requires != "":
			env.Requires = append(env.Requires, d.Requires)
		case d.DefineLayer != nil:
			l, err := convertLayerBody(d.DefineLayer, layer.TypeLayer)
			if err != nil {
				return env, err
			}
			env.Layers = append(env.Layers, l)
		case d.DefineImage != nil:
			l, err := convertLayerBody(d.DefineImage, layer.TypeImage)
			if err != nil {
				return env, err
			}
			env.Layers = append(env.Layers, l)
		case d.UseEnvironment != "":
			env.Layers = append(env.Layers, layer.Layer{Type: layer.TypeReference, LowerLayerName: d.UseEnvironment})

		case d.LegacyOverlay != nil:
			warnOnce(logger, legacyWarned, "overlay", `"overlay { ... }" is obsolete, rewriting to "define-layer { ... }"`)
			l, err := convertLayerBody(d.LegacyOverlay, layer.TypeLayer)
			if err != nil {
				return env, err
			}
			env.Layers = append(env.Layers, l)

		case d.LegacyLayer != "":
			warnOnce(logger, legacyWarned, "layer", `"layer NAME" is obsolete, rewriting to "use-environment NAME"`)
			env.Layers = append(env.Layers, layer.Layer{Type: layer.TypeReference, LowerLayerName: d.LegacyLayer})
		}
	}

	return env, nil
}

func warnOnce(logger Logger, warned map[string]bool, key, message string) {
	if warned[key] {
		return
	}
	warned[key] = true
	logger.Printf("wormholeconf: %s", message)
}

func convertLayerBody(body *layerBody, defaultType layer.Type) (layer.Layer, error) {
	l := layer.Layer{Type: defaultType}

	for _, d := range body.Directives {
		switch {
		case d.Directory != "":
			expanded, err := expandPath(d.Directory)
			if err != nil {
				return l, err
			}
			l.Directory = expanded
		case d.Image != "":
			l.Image = d.Image
		case d.UseLdconfig != "":
			l.UseLdconfig = true
		case d.PathKind != nil:
			kind, err := parseKind(d.PathKind.Kind)
			if err != nil {
				return l, err
			}
			path, err := expandPath(d.PathKind.Path)
			if err != nil {
				return l, err
			}
			l.Paths = append(l.Paths, layer.PathDirective{Kind: kind, Path: path})
		case d.Mount != nil:
			pd := layer.PathDirective{Kind: layer.Mount, Path: d.Mount.Path, FSType: d.Mount.FSType}
			// "mount" ABSPATH FSTYPE [DEVICE] [OPTIONS]: the first extra
			// token is the device, the second the mount options.
			if len(d.Mount.Extra) > 0 {
				pd.Device = d.Mount.Extra[0]
			}
			if len(d.Mount.Extra) > 1 {
				pd.Options = d.Mount.Extra[1]
			}
			l.Paths = append(l.Paths, pd)
		}
	}
	return l, nil
}

func parseKind(s string) (layer.Kind, error) {
	switch s {
	case "bind":
		return layer.Bind, nil
	case "bind-children":
		return layer.BindChildren, nil
	case "overlay":
		return layer.Overlay, nil
	case "overlay-children":
		return layer.OverlayChildren, nil
	case "wormhole":
		return layer.Wormhole, nil
	default:
		return 0, fmt.Errorf("unknown path-directive keyword %q", s)
	}
}

// Write serializes c back to path in the grammar Loading
// the written file reproduces an equivalent Config (config
// round-trip property); comments and obsolete-alias spellings are not
// preserved, since the parsed Config does not retain them.
func Write(path string, c *Config) error {
	var b strings.Builder

	if c.ClientPath != "" {
		fmt.Fprintf(&b, "client-path %s\n", c.ClientPath)
	}

	for _, p := range c.Profiles {
		fmt.Fprintf(&b, "profile %s {\n", shellescape.Quote(p.Name))
		if p.Wrapper != "" {
			fmt.Fprintf(&b, "  wrapper %s\n", p.Wrapper)
		}
		if p.Command != "" {
			fmt.Fprintf(&b, "  command %s\n", p.Command)
		}
		if p.Environment != "" {
			fmt.Fprintf(&b, "  environment %s\n", p.Environment)
		}
		b.WriteString("}\n")
	}

	for _, e := range c.Environments {
		writeEnvironment(&b, e)
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeEnvironment(b *strings.Builder, e layer.Environment) {
	fmt.Fprintf(b, "environment %s {\n", e.Name)
	for _, p := range e.Provides {
		fmt.Fprintf(b, "  provides %s\n", p)
	}
	for _, r := range e.Requires {
		fmt.Fprintf(b, "  requires %s\n", r)
	}
	for _, l := range e.Layers {
		switch l.Type {
		case layer.TypeReference:
			fmt.Fprintf(b, "  use-environment %s\n", l.LowerLayerName)
		case layer.TypeImage:
			writeLayerBody(b, "define-image", l)
		default:
			writeLayerBody(b, "define-layer", l)
		}
	}
	b.WriteString("}\n")
}

func writeLayerBody(b *strings.Builder, keyword string, l layer.Layer) {
	fmt.Fprintf(b, "  %s {\n", keyword)
	if l.Directory != "" {
		fmt.Fprintf(b, "    directory %s\n", l.Directory)
	}
	if l.Image != "" {
		fmt.Fprintf(b, "    image %s\n", l.Image)
	}
	if l.UseLdconfig {
		b.WriteString("    use ldconfig\n")
	}
	for _, d := range l.Paths {
		writePathDirective(b, d)
	}
	b.WriteString("  }\n")
}

func writePathDirective(b *strings.Builder, d layer.PathDirective) {
	switch d.Kind {
	case layer.Mount:
		fmt.Fprintf(b, "    mount %s %s", d.Path, d.FSType)
		if d.Device != "" {
			fmt.Fprintf(b, " %s", d.Device)
		}
		if d.Options != "" {
			fmt.Fprintf(b, " %s", d.Options)
		}
		b.WriteString("\n")
	case layer.Hide:
		fmt.Fprintf(b, "    # hide %s (unimplemented)\n", d.Path)
	default:
		fmt.Fprintf(b, "    %s %s\n", kindKeyword(d.Kind), d.Path)
	}
}

func kindKeyword(k layer.Kind) string {
	switch k {
	case layer.Bind:
		return "bind"
	case layer.BindChildren:
		return "bind-children"
	case layer.Overlay:
		return "overlay"
	case layer.OverlayChildren:
		return "overlay-children"
	case layer.Wormhole:
		return "wormhole"
	default:
		return strconv.Itoa(int(k))
	}
}
