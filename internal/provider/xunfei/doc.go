// Package xunfei implements the iFlytek (Xunfei) adapters: RTASR realtime
// recognition, WebSocket TTS and LFASR batch transcription.
package xunfei
