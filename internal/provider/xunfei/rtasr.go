package xunfei

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

var endTag = []byte(`{"end": true}`)

// RTASR credential failures
var authCodes = map[string]bool{
	"10105": true, // illegal access
	"10110": true, // no authorization
}

// RTASR is the realtime recognition adapter
type RTASR struct {
	cfg Config
}

// NewRTASR creates a realtime recognizer
func NewRTASR(cfg Config) *RTASR {
	return &RTASR{cfg: cfg.withDefaults()}
}

// Name returns the vendor name
func (r *RTASR) Name() string {
	return Name
}

// Connect signs the RTASR URL, dials it and waits for the started handshake
func (r *RTASR) Connect(ctx context.Context, opts provider.RecognizeOptions) (provider.RecognizerConn, error) {
	q := signedQuery(r.cfg.AppID, r.cfg.APIKey, r.cfg.Now())
	if strings.HasPrefix(strings.ToLower(opts.Language), "en") {
		q.Set("lang", "en")
	}

	sock, err := provider.Dial(ctx, r.cfg.RTASRURL+"?"+q.Encode(), nil, r.cfg.Dial)
	if err != nil {
		return nil, err
	}

	logger := r.cfg.Logger.With(slog.String("vendor", Name), slog.String("session_id", opts.SessionID))

	if err := awaitStarted(ctx, sock); err != nil {
		sock.Close()
		return nil, err
	}
	logger.Debug("RTASR handshake complete")

	limit := rate.Inf
	if r.cfg.FrameInterval > 0 {
		limit = rate.Limit(float64(RTASRFrameSize) / r.cfg.FrameInterval.Seconds())
	}

	return &rtasrConn{
		sock:    sock,
		framer:  audio.NewFramer(RTASRFrameSize),
		limiter: rate.NewLimiter(limit, RTASRFrameSize),
		logger:  logger,
	}, nil
}

func awaitStarted(ctx context.Context, sock *provider.Socket) error {
	msg, err := sock.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return proxyerr.New(proxyerr.KindNetwork, "vendor closed connection during handshake")
		}
		return err
	}

	switch action := gjson.GetBytes(msg.Data, "action").String(); action {
	case "started":
		return nil
	case "error":
		code := gjson.GetBytes(msg.Data, "code").String()
		desc := gjson.GetBytes(msg.Data, "desc").String()
		if authCodes[code] {
			return &proxyerr.Error{Kind: proxyerr.KindAuth, Code: code, Message: desc}
		}
		return proxyerr.Vendor(code, desc)
	default:
		return proxyerr.New(proxyerr.KindVendorProtocol, "unexpected handshake action %q", action)
	}
}

type rtasrConn struct {
	sock    *provider.Socket
	framer  *audio.Framer // owned by the sending goroutine
	limiter *rate.Limiter
	logger  *slog.Logger

	ended atomic.Bool

	// seg_id numbers result messages, not sentences; interims carry the
	// cumulative text of the current sentence until its final arrives.
	// Owned by the receiving goroutine.
	sentence int
}

// SendAudio converts the chunk to 16 kHz mono and sends it in paced frames
func (c *rtasrConn) SendAudio(ctx context.Context, chunk audio.Chunk) error {
	pcm := audio.Convert(chunk, RTASRSampleRate)
	for _, f := range c.framer.Write(pcm.Data) {
		if err := c.sendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *rtasrConn) sendFrame(ctx context.Context, f []byte) error {
	if err := c.limiter.WaitN(ctx, len(f)); err != nil {
		return err
	}
	return c.sock.WriteBinary(f)
}

// CloseSend flushes the partial frame and sends the end tag
func (c *rtasrConn) CloseSend(ctx context.Context) error {
	if tail := c.framer.Flush(); tail != nil {
		if err := c.sendFrame(ctx, tail); err != nil {
			return err
		}
	}
	c.ended.Store(true)
	if err := c.sock.WriteText(endTag); err != nil {
		return err
	}
	c.logger.Debug("Sent end tag", slog.Any("framer", c.framer.GetStats()))
	return nil
}

// Receive returns the next recognition event
func (c *rtasrConn) Receive(ctx context.Context) (provider.Event, error) {
	for {
		msg, err := c.sock.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.ended.Load() {
					return provider.Event{Kind: provider.EventEOS}, nil
				}
				return provider.Event{}, proxyerr.New(proxyerr.KindNetwork, "vendor closed connection before end of audio")
			}
			return provider.Event{}, err
		}

		ev, ok, err := parseRTASR(msg.Data)
		if err != nil {
			return provider.Event{}, err
		}
		if !ok {
			continue
		}
		if ev.Kind == provider.EventInterim || ev.Kind == provider.EventFinal {
			ev.SegmentID = strconv.Itoa(c.sentence)
			if ev.Kind == provider.EventFinal {
				c.sentence++
			}
		}
		return ev, nil
	}
}

// Close releases the connection
func (c *rtasrConn) Close() error {
	return c.sock.Close()
}

// parseRTASR maps one RTASR message to an event; ok is false for messages
// that carry nothing for the client. Transcript events come back without a
// segment id, the connection assigns one per sentence.
func parseRTASR(data []byte) (provider.Event, bool, error) {
	if !gjson.ValidBytes(data) {
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "malformed vendor message")
	}

	switch action := gjson.GetBytes(data, "action").String(); action {
	case "started":
		return provider.Event{}, false, nil

	case "result":
		// data is itself a JSON document encoded as a string
		result := gjson.GetBytes(data, "data").String()
		if !gjson.Valid(result) {
			return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "malformed result payload")
		}
		kind := provider.EventInterim
		if gjson.Get(result, "cn.st.type").String() == "0" {
			kind = provider.EventFinal
		}
		return provider.Event{
			Kind: kind,
			Text: joinWords(gjson.Get(result, "cn.st")),
		}, true, nil

	case "error":
		return provider.Event{
			Kind:   provider.EventError,
			Code:   gjson.GetBytes(data, "code").String(),
			Detail: gjson.GetBytes(data, "desc").String(),
		}, true, nil

	default:
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "unknown vendor action %q", action)
	}
}

// joinWords concatenates rt[].ws[].cw[].w under a sentence node
func joinWords(st gjson.Result) string {
	var b strings.Builder
	st.Get("rt").ForEach(func(_, rt gjson.Result) bool {
		rt.Get("ws").ForEach(func(_, ws gjson.Result) bool {
			ws.Get("cw").ForEach(func(_, cw gjson.Result) bool {
				b.WriteString(cw.Get("w").String())
				return true
			})
			return true
		})
		return true
	})
	return b.String()
}
