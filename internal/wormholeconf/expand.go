package wormholeconf

import (
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// expandPath applies shell-style "$VAR" and "~" expansion to a config path
// token, the way a shell would before handing argv to exec. Config path
// directives are otherwise taken literally, so this is the one place
// environment-dependent paths (e.g. "$HOME/.cache") get resolved.
func expandPath(raw string) (string, error) {
	if !strings.ContainsAny(raw, "$~") {
		return raw, nil
	}

	word, err := syntax.NewParser().Document(strings.NewReader(raw))
	if err != nil {
		// Not a valid shell word (e.g. a bare "~" mid-path); fall back to
		// the literal token rather than failing config load over it.
		return raw, nil
	}

	cfg := &expand.Config{Env: environFunc(os.Environ())}
	expanded, err := expand.Literal(cfg, word)
	if err != nil {
		return "", err
	}
	return expanded, nil
}

// environFunc adapts os.Environ()'s "KEY=VALUE" slice to expand.Environ.
type environFunc []string

func (e environFunc) Get(name string) expand.Variable {
	prefix := name + "="
	for _, kv := range e {
		if strings.HasPrefix(kv, prefix) {
			return expand.Variable{
				Exported: true,
				Kind:     expand.String,
				Str:      strings.TrimPrefix(kv, prefix),
			}
		}
	}
	return expand.Variable{}
}

func (e environFunc) Each(fn func(name string, vr expand.Variable) bool) {
	for _, kv := range e {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if !fn(parts[0], expand.Variable{Exported: true, Kind: expand.String, Str: parts[1]}) {
			return
		}
	}
}
