package doubao

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/qxb-in/ot/internal/frame"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/provider/vendortest"
	"github.com/qxb-in/ot/internal/proxyerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// audioFrame builds an uncompressed audio-only response
func audioFrame(t *testing.T, seq int32, pcm []byte) []byte {
	t.Helper()
	f := frame.New(frame.MsgAudioOnlyResponse, frame.FlagPositiveSeq, pcm)
	f.Compression = frame.CompressionNone
	if seq < 0 {
		f.Flags = frame.FlagNegativeSeq
	}
	f.Sequence = seq
	data, err := f.Encode()
	require.NoError(t, err)
	return data
}

func ackFrame() []byte {
	return []byte{0x11, 0xb0, 0x00, 0x00}
}

func TestBinaryTTSSynthesize(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		if r.Header.Get("Authorization") != "Bearer; tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}

		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			t.Errorf("request must be binary")
		}
		if len(data) < 4 || data[0] != 0x11 || data[1] != 0x10 || data[2] != 0x11 || data[3] != 0x00 {
			t.Errorf("header = % x", data[:4])
		}
		req, err := frame.Decode(data)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if gjson.GetBytes(req.Payload, "request.text").String() != "你好" ||
			gjson.GetBytes(req.Payload, "app.cluster").String() != DefaultCluster ||
			gjson.GetBytes(req.Payload, "audio.voice_type").String() != DefaultVoice ||
			gjson.GetBytes(req.Payload, "request.operation").String() != "submit" {
			t.Errorf("unexpected request payload %s", req.Payload)
		}

		conn.WriteMessage(websocket.BinaryMessage, ackFrame())
		conn.WriteMessage(websocket.BinaryMessage, audioFrame(t, 1, []byte{1, 2}))
		conn.WriteMessage(websocket.BinaryMessage, audioFrame(t, 2, []byte{3, 4}))
		conn.WriteMessage(websocket.BinaryMessage, audioFrame(t, -3, []byte{5}))
	})

	tts := NewBinaryTTS(Config{AppID: "app", Token: "tok", BinaryURL: srv.WSURL("/"), Logger: testLogger()})
	assert.Equal(t, "doubao", tts.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tts.Synthesize(ctx, provider.SpeechRequest{Text: "你好", Voice: "alloy", Format: "pcm"})
	require.NoError(t, err)
	defer stream.Close()

	var pcm []byte
	for {
		ev, err := stream.Receive(ctx)
		require.NoError(t, err)
		if ev.Kind == provider.EventEOS {
			break
		}
		require.Equal(t, provider.EventAudio, ev.Kind)
		pcm = append(pcm, ev.Audio...)
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, pcm)
}

func TestBinaryTTSErrorFrame(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		data, _ := frame.EncodeError(3001, "invalid voice", true)
		conn.WriteMessage(websocket.BinaryMessage, data)
	})

	tts := NewBinaryTTS(Config{BinaryURL: srv.WSURL("/"), Logger: testLogger()})
	ctx := context.Background()
	stream, err := tts.Synthesize(ctx, provider.SpeechRequest{Text: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.EventError, ev.Kind)
	assert.Equal(t, "3001", ev.Code)
	assert.Equal(t, "invalid voice", ev.Detail)
}

func TestBinaryTTSMalformedFrame(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		bad := []byte{0x11, 0xb1, 0x00, 0x00}
		bad = binary.BigEndian.AppendUint32(bad, 1)
		bad = binary.BigEndian.AppendUint32(bad, 100) // claims more than it has
		conn.WriteMessage(websocket.BinaryMessage, bad)
	})

	tts := NewBinaryTTS(Config{BinaryURL: srv.WSURL("/"), Logger: testLogger()})
	ctx := context.Background()
	stream, err := tts.Synthesize(ctx, provider.SpeechRequest{Text: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Receive(ctx)
	assert.Equal(t, proxyerr.KindFrameDecode, proxyerr.KindOf(err))
}

func TestBinaryTTSClose(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
		conn.ReadMessage()
	})

	tts := NewBinaryTTS(Config{BinaryURL: srv.WSURL("/"), Logger: testLogger()})
	ctx := context.Background()
	stream, err := tts.Synthesize(ctx, provider.SpeechRequest{Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err = stream.Receive(ctx)
	assert.ErrorIs(t, err, provider.ErrClosed)
}

func TestBinaryTTSRequest(t *testing.T) {
	tts := NewBinaryTTS(Config{AppID: "a", Token: "t", Cluster: "c"})

	r := tts.buildRequest(provider.SpeechRequest{Text: "x", Voice: "zh_male_custom", Format: "mp3", Speed: 1.5, Emotion: "happy"})
	assert.Equal(t, "zh_male_custom", r.Audio.VoiceType)
	assert.Equal(t, "mp3", r.Audio.Encoding)
	assert.Equal(t, 1.5, r.Audio.SpeedRatio)
	assert.Equal(t, "happy", r.Audio.Emotion)
	assert.Equal(t, "c", r.App.Cluster)
	assert.NotEmpty(t, r.Request.ReqID)

	format, rate := tts.OutputFormat(provider.SpeechRequest{Format: "wav"})
	assert.Equal(t, "pcm", format)
	assert.Equal(t, 24000, rate)
}
