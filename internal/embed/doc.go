// Package embed turns operation records into vectors for the learning
// store.
//
// Three providers share one interface: a deterministic feature-hash
// embedder that needs no external service (the default), FastEmbed for
// local ONNX models (CGO builds only), and any OpenAI-compatible
// endpoint via langchaingo. Provider selection happens at runtime from
// configuration, with dimension detection for common models.
package embed
