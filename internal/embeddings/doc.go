// Package embeddings turns text into vectors for the document store.
//
// Three providers are available: FastEmbed (local ONNX model, the default,
// requires cgo), TEI (a text-embeddings-inference HTTP server) and OpenAI.
// All of them embed documents and queries with the same function, so a
// stored document and an identical query text map to the same vector.
package embeddings
