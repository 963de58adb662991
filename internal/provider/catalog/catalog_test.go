package catalog

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxb-in/ot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildRegistersConfiguredVendors(t *testing.T) {
	cfg := config.Default()
	cfg.Vendors.Xunfei = config.XunfeiConfig{AppID: "a", APIKey: "k", APISecret: "s", LFASRSecret: "l"}
	cfg.Vendors.DashScope.APIKey = "d"
	cfg.Vendors.Doubao = config.DoubaoConfig{AppID: "a", Token: "t", AccessKey: "ak"}
	cfg.Vendors.DefaultASR = "dashscope"
	cfg.Vendors.DefaultTTS = "doubao-http"

	reg := Build(cfg, testLogger())

	assert.Equal(t, []string{"dashscope", "xunfei"}, reg.RecognizerNames())
	assert.Equal(t, []string{"doubao", "doubao-http", "xunfei"}, reg.SynthesizerNames())

	rec, err := reg.Recognizer("")
	require.NoError(t, err)
	assert.Equal(t, "dashscope", rec.Name())

	syn, err := reg.Synthesizer("")
	require.NoError(t, err)
	assert.Equal(t, "doubao-http", syn.Name())

	batch, err := reg.Batch()
	require.NoError(t, err)
	assert.Equal(t, "xunfei", batch.Name())
}

func TestBuildSkipsUnconfiguredDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Vendors.DashScope.APIKey = "d"
	cfg.Vendors.DefaultASR = "xunfei"

	reg := Build(cfg, testLogger())

	rec, err := reg.Recognizer("")
	require.NoError(t, err)
	assert.Equal(t, "dashscope", rec.Name())

	_, err = reg.Synthesizer("")
	assert.Error(t, err)
	_, err = reg.Batch()
	assert.Error(t, err)
}
