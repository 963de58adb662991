package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxb-in/ot/internal/proxyerr"
)

type stubRecognizer string

func (s stubRecognizer) Name() string { return string(s) }
func (s stubRecognizer) Connect(context.Context, RecognizeOptions) (RecognizerConn, error) {
	return nil, nil
}

type stubSynthesizer string

func (s stubSynthesizer) Name() string { return string(s) }
func (s stubSynthesizer) Synthesize(context.Context, SpeechRequest) (Stream, error) {
	return nil, nil
}
func (s stubSynthesizer) OutputFormat(SpeechRequest) (string, int) { return "pcm", 16000 }

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	r.RegisterRecognizer(stubRecognizer("xunfei"))
	r.RegisterRecognizer(stubRecognizer("dashscope"))
	r.RegisterSynthesizer(stubSynthesizer("doubao"))

	rec, err := r.Recognizer("")
	require.NoError(t, err)
	assert.Equal(t, "xunfei", rec.Name())

	r.SetDefaults("dashscope", "")
	rec, err = r.Recognizer("")
	require.NoError(t, err)
	assert.Equal(t, "dashscope", rec.Name())

	syn, err := r.Synthesizer("")
	require.NoError(t, err)
	assert.Equal(t, "doubao", syn.Name())

	assert.Equal(t, []string{"dashscope", "xunfei"}, r.RecognizerNames())
	assert.Equal(t, []string{"doubao"}, r.SynthesizerNames())
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Recognizer("nope")
	assert.Equal(t, proxyerr.KindInvalidConfig, proxyerr.KindOf(err))

	_, err = r.Synthesizer("")
	assert.Equal(t, proxyerr.KindInvalidConfig, proxyerr.KindOf(err))

	_, err = r.Batch()
	assert.Equal(t, proxyerr.KindInvalidConfig, proxyerr.KindOf(err))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "interim", EventInterim.String())
	assert.Equal(t, "eos", EventEOS.String())
	assert.Equal(t, "unknown(42)", EventKind(42).String())
}
