// Package generation defines the contract implemented by all media providers.
package generation

import "context"

// ArtifactSource is one generated artifact as returned by a provider: either
// inline bytes or a URL (http(s) or data:) the pipeline downloads from.
type ArtifactSource struct {
	URL  string
	Data []byte
	MIME string
}

// Generator produces artifacts for a prompt and parameter set. Implementations
// classify failures with domain.Transient / domain.Permanent; the orchestrator
// never inspects raw provider errors.
type Generator interface {
	Generate(ctx context.Context, prompt string, parameters map[string]any) ([]ArtifactSource, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, parameters map[string]any) ([]ArtifactSource, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, parameters map[string]any) ([]ArtifactSource, error) {
	return f(ctx, prompt, parameters)
}
