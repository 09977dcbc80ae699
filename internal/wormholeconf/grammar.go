// Package wormholeconf implements the config-file grammar:
// lexing, parsing, and round-trip writing of the toplevel/profile-block/
// environment-block grammar the core consumes.
//
// The lexer+parser-combinator structure (a participle.MustBuild grammar
// over a simple hand-rolled lexer, with alternation expressed as chained
// struct fields) follows the same "SimpleRule lexer + tagged alternation
// structs" shape as a Portage dependency-expression grammar, trading its
// nested-parenthesis operator expressions for a flat keyword/brace block
// structure.
package wormholeconf

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var configLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Punct", Pattern: `[{}]`},
	{Name: "Token", Pattern: `[^\s{}#]+`},
})

var configParser = participle.MustBuild[file](
	participle.Lexer(configLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.UseLookahead(2),
)

// file is the parsed toplevel production.
type file struct {
	Items []*item `parser:"@@*"`
}

type item struct {
	Include     string            `parser:"\"config\" @Token"`
	ClientPath  string            `parser:"| \"client-path\" @Token"`
	Profile     *profileBlock     `parser:"| @@"`
	Environment *environmentBlock `parser:"| @@"`
}

type profileBlock struct {
	Name       string              `parser:"\"profile\" @Token \"{\""`
	Directives []*profileDirective `parser:"@@* \"}\""`
}

type profileDirective struct {
	Keyword string `parser:"@(\"wrapper\"|\"command\"|\"environment\")"`
	Value   string `parser:"@Token"`
}

type environmentBlock struct {
	Name       string          `parser:"\"environment\" @Token \"{\""`
	Directives []*envDirective `parser:"@@* \"}\""`
}

type envDirective struct {
	Provides       string     `parser:"\"provides\" @Token"`
	Requires       string     `parser:"| \"requires\" @Token"`
	DefineLayer    *layerBody `parser:"| \"define-layer\" @@"`
	DefineImage    *layerBody `parser:"| \"define-image\" @@"`
	UseEnvironment string     `parser:"| \"use-environment\" @Token"`
	// Obsolete aliases: "overlay { ... }" for "define-layer
	// { ... }", and "layer NAME" for "use-environment NAME".
	LegacyOverlay *layerBody `parser:"| \"overlay\" @@"`
	LegacyLayer   string     `parser:"| \"layer\" @Token"`
}

type layerBody struct {
	Directives []*layerDirective `parser:"\"{\" @@* \"}\""`
}

type layerDirective struct {
	Directory   string          `parser:"\"directory\" @Token"`
	Image       string          `parser:"| \"image\" @Token"`
	UseLdconfig string          `parser:"| \"use\" @\"ldconfig\""`
	PathKind    *pathDirective  `parser:"| @@"`
	Mount       *mountDirective `parser:"| @@"`
}

type pathDirective struct {
	Kind string `parser:"@(\"bind\"|\"bind-children\"|\"overlay\"|\"overlay-children\"|\"wormhole\")"`
	Path string `parser:"@Token"`
}

type mountDirective struct {
	Path   string   `parser:"\"mount\" @Token"`
	FSType string   `parser:"@Token"`
	Extra  []string `parser:"@Token*"`
}

// parseFile runs the grammar against the full text of a config file.
func parseFile(filename, text string) (*file, error) {
	return configParser.ParseString(filename, text)
}
