// Package ai integrates the image-generation provider. The engine consumes
// the returned shape and passes usage metadata through opaquely.
package ai

import "context"

// Image is one generated result: either a URL to fetch or an inline base64
// payload, depending on what the provider returned.
type Image struct {
	URL     string
	B64JSON string
}

// Result is a provider response: a sequence of images plus whatever usage
// and cost metadata the provider reported.
type Result struct {
	Images []Image
	Usage  map[string]interface{}
}

// Generator produces images from a natural-language prompt. The model hint
// is optional; implementations fall back to their configured default.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (*Result, error)
}
