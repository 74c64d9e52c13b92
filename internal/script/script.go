// Package script defines the external script generation collaborator.
// Script generation happens in a separate text-generation service; this
// core only needs the finished text, so the package carries the port and
// nothing else.
package script

import "context"

// Brief describes what the script should cover.
type Brief struct {
	// Topic is what the video is about.
	Topic string
	// Style is a free-form tone hint (e.g. "conversational").
	Style string
	// DurationSec is the target spoken length, used to size the text.
	DurationSec int
}

// Generator produces a spoken script from a brief. Implementations call an
// external text-generation service; failures surface as plain errors and
// fail the submit before any provider is dispatched to.
type Generator interface {
	GenerateScript(ctx context.Context, brief Brief) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, brief Brief) (string, error)

// GenerateScript calls f.
func (f GeneratorFunc) GenerateScript(ctx context.Context, brief Brief) (string, error) {
	return f(ctx, brief)
}
