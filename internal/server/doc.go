// Package server exposes the proxy over HTTP. It accepts realtime
// transcription clients on a websocket, serves the OpenAI-compatible speech
// and transcription endpoints, and provides monitoring endpoints for
// sessions, configuration, statistics and Prometheus metrics.
package server
