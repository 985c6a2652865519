// Package scriptprep checks and transforms script sources before they reach
// an engine. esbuild parses every source, which gives syntax errors with a
// line and column on every backend, and transpiles TypeScript to
// JavaScript.
package scriptprep

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/jsbridge/internal/core"
)

// Loader names the source language.
type Loader string

const (
	LoaderJS Loader = "js"
	LoaderTS Loader = "ts"
)

// Prepared is the outcome of preparing one source.
type Prepared struct {
	Origin string
	Loader Loader
	Hash   string // content key, see Key
	Code   string // what the engine evaluates
}

// Key identifies a source for caching: the sha256 of origin, loader and
// source text.
func Key(origin string, loader Loader, source string) string {
	h := sha256.New()
	h.Write([]byte(origin))
	h.Write([]byte{0})
	h.Write([]byte(loader))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Prepare parses source. JavaScript is checked and returned unchanged so
// positions in engine stack traces match the original text; TypeScript is
// transpiled. Syntax errors are returned as a CompileError carrying the
// first error's line and column.
func Prepare(source, origin string, loader Loader) (*Prepared, error) {
	if loader == "" {
		loader = LoaderJS
	}
	opts := esbuild.TransformOptions{
		Sourcefile: origin,
		Target:     esbuild.ES2022,
		LogLevel:   esbuild.LogLevelSilent,
	}
	switch loader {
	case LoaderJS:
		opts.Loader = esbuild.LoaderJS
	case LoaderTS:
		opts.Loader = esbuild.LoaderTS
	default:
		return nil, core.NewError(core.KindConfigurationConflict, "unknown loader %q", loader)
	}

	result := esbuild.Transform(source, opts)
	if len(result.Errors) > 0 {
		return nil, compileError(result.Errors, origin)
	}

	p := &Prepared{
		Origin: origin,
		Loader: loader,
		Hash:   Key(origin, loader, source),
		Code:   source,
	}
	if loader == LoaderTS {
		p.Code = string(result.Code)
	}
	return p, nil
}

func compileError(msgs []esbuild.Message, origin string) *core.CallError {
	first := msgs[0]
	ce := &core.CallError{
		Kind:    core.KindCompileError,
		Name:    "SyntaxError",
		Message: "SyntaxError: " + first.Text,
		Origin:  origin,
	}
	if loc := first.Location; loc != nil {
		ce.Line = loc.Line
		ce.Column = loc.Column + 1
		if loc.LineText != "" {
			ce.Stack = loc.LineText + "\n" + strings.Repeat(" ", loc.Column) + "^"
		}
	}
	if len(msgs) > 1 {
		var more []string
		for _, m := range msgs[1:] {
			more = append(more, m.Text)
		}
		ce.Message += " (also: " + strings.Join(more, "; ") + ")"
	}
	return ce
}
