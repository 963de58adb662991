// Package catalog builds the vendor registry from configuration.
package catalog

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/provider/dashscope"
	"github.com/qxb-in/ot/internal/provider/doubao"
	"github.com/qxb-in/ot/internal/provider/xunfei"
)

// Build registers every vendor whose credentials are configured
func Build(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	v := cfg.Vendors
	dial := provider.DialOptions{HandshakeTimeout: v.GetHandshakeTimeoutDuration()}
	ttsClient := &http.Client{Timeout: cfg.Transcription.GetTimeoutDuration()}

	reg := provider.NewRegistry()

	xcfg := xunfei.Config{
		AppID:         v.Xunfei.AppID,
		APIKey:        v.Xunfei.APIKey,
		APISecret:     v.Xunfei.APISecret,
		LFASRSecret:   v.Xunfei.LFASRSecret,
		RTASRURL:      v.Xunfei.RTASRURL,
		TTSURL:        v.Xunfei.TTSURL,
		TTSHost:       v.Xunfei.TTSHost,
		LFASRURL:      v.Xunfei.LFASRURL,
		FrameInterval: v.Xunfei.GetFrameInterval(),
		PollInterval:  cfg.Transcription.GetPollIntervalDuration(),
		Dial:          dial,
		Logger:        logger,
	}
	if v.Xunfei.Enabled() {
		reg.RegisterRecognizer(xunfei.NewRTASR(xcfg))
		reg.RegisterSynthesizer(xunfei.NewTTS(xcfg))
	}
	if v.Xunfei.BatchEnabled() {
		// polling requests are short; the overall budget comes from the caller's context
		reg.SetBatch(xunfei.NewLFASR(xcfg, &http.Client{Timeout: 30 * time.Second}))
	}

	if v.DashScope.Enabled() {
		reg.RegisterRecognizer(dashscope.NewGummy(dashscope.Config{
			APIKey: v.DashScope.APIKey,
			URL:    v.DashScope.URL,
			Model:  v.DashScope.Model,
			Dial:   dial,
			Logger: logger,
		}))
	}

	dcfg := doubao.Config{
		AppID:      v.Doubao.AppID,
		Token:      v.Doubao.Token,
		Cluster:    v.Doubao.Cluster,
		AccessKey:  v.Doubao.AccessKey,
		ResourceID: v.Doubao.ResourceID,
		BinaryURL:  v.Doubao.BinaryURL,
		HTTPURL:    v.Doubao.HTTPURL,
		Dial:       dial,
		Logger:     logger,
	}
	if v.Doubao.BinaryEnabled() {
		reg.RegisterSynthesizer(doubao.NewBinaryTTS(dcfg))
	}
	if v.Doubao.HTTPEnabled() {
		reg.RegisterSynthesizer(doubao.NewHTTPTTS(dcfg, ttsClient))
	}

	// an unconfigured default falls back to the first registered vendor
	asr, tts := v.DefaultASR, v.DefaultTTS
	if !slices.Contains(reg.RecognizerNames(), asr) {
		asr = ""
	}
	if !slices.Contains(reg.SynthesizerNames(), tts) {
		tts = ""
	}
	reg.SetDefaults(asr, tts)

	logger.Info("Vendor registry built",
		slog.Any("recognizers", reg.RecognizerNames()),
		slog.Any("synthesizers", reg.SynthesizerNames()),
		slog.Bool("batch", v.Xunfei.BatchEnabled()))

	return reg
}
