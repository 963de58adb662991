package provider

import (
	"sort"

	"github.com/qxb-in/ot/internal/proxyerr"
)

// Registry maps vendor names to adapters. It is populated once at startup
// and read-only afterwards.
type Registry struct {
	recognizers  map[string]Recognizer
	synthesizers map[string]Synthesizer
	batch        BatchTranscriber

	defaultRecognizer  string
	defaultSynthesizer string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		recognizers:  make(map[string]Recognizer),
		synthesizers: make(map[string]Synthesizer),
	}
}

// RegisterRecognizer adds a streaming recognizer. The first one registered
// becomes the default.
func (r *Registry) RegisterRecognizer(rec Recognizer) {
	r.recognizers[rec.Name()] = rec
	if r.defaultRecognizer == "" {
		r.defaultRecognizer = rec.Name()
	}
}

// RegisterSynthesizer adds a synthesizer. The first one registered becomes
// the default.
func (r *Registry) RegisterSynthesizer(s Synthesizer) {
	r.synthesizers[s.Name()] = s
	if r.defaultSynthesizer == "" {
		r.defaultSynthesizer = s.Name()
	}
}

// SetBatch sets the batch transcriber
func (r *Registry) SetBatch(b BatchTranscriber) {
	r.batch = b
}

// SetDefaults overrides the default vendors; empty names are ignored
func (r *Registry) SetDefaults(recognizer, synthesizer string) {
	if recognizer != "" {
		r.defaultRecognizer = recognizer
	}
	if synthesizer != "" {
		r.defaultSynthesizer = synthesizer
	}
}

// Recognizer looks up a recognizer; an empty name selects the default
func (r *Registry) Recognizer(name string) (Recognizer, error) {
	if name == "" {
		name = r.defaultRecognizer
	}
	rec, ok := r.recognizers[name]
	if !ok {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "unknown recognition vendor %q", name)
	}
	return rec, nil
}

// Synthesizer looks up a synthesizer; an empty name selects the default
func (r *Registry) Synthesizer(name string) (Synthesizer, error) {
	if name == "" {
		name = r.defaultSynthesizer
	}
	s, ok := r.synthesizers[name]
	if !ok {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "unknown synthesis vendor %q", name)
	}
	return s, nil
}

// Batch returns the batch transcriber
func (r *Registry) Batch() (BatchTranscriber, error) {
	if r.batch == nil {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "no batch transcription vendor configured")
	}
	return r.batch, nil
}

// RecognizerNames lists registered recognizers in sorted order
func (r *Registry) RecognizerNames() []string {
	return sortedKeys(r.recognizers)
}

// SynthesizerNames lists registered synthesizers in sorted order
func (r *Registry) SynthesizerNames() []string {
	return sortedKeys(r.synthesizers)
}

func sortedKeys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
