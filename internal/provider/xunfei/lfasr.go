package xunfei

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/proxyerr"
)

const (
	lfasrOK = "000000"

	// order states reported by getResult
	orderDone   = 4
	orderFailed = -1

	// sent when the upload is not a WAV we can measure
	defaultDuration = "200"
)

var errOrderPending = errors.New("lfasr order still processing")

// LFASR is the batch file transcription adapter. Uploads are polled until
// the order completes.
type LFASR struct {
	cfg    Config
	client *http.Client
}

// NewLFASR creates a batch transcriber using client for HTTP requests.
// A nil client selects http.DefaultClient.
func NewLFASR(cfg Config, client *http.Client) *LFASR {
	if client == nil {
		client = http.DefaultClient
	}
	return &LFASR{cfg: cfg.withDefaults(), client: client}
}

// Name returns the vendor name
func (l *LFASR) Name() string {
	return Name
}

// TranscribeBatch uploads data and polls for the transcript
func (l *LFASR) TranscribeBatch(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", proxyerr.New(proxyerr.KindInvalidConfig, "empty audio file")
	}

	ts := l.cfg.Now().Unix()
	signa := Signa(l.cfg.AppID, l.cfg.LFASRSecret, ts)

	q := url.Values{}
	q.Set("appId", l.cfg.AppID)
	q.Set("signa", signa)
	q.Set("ts", strconv.FormatInt(ts, 10))
	q.Set("fileSize", strconv.Itoa(len(data)))
	q.Set("fileName", filename)
	q.Set("duration", uploadDuration(data))

	body, err := l.post(ctx, "/upload", q, data)
	if err != nil {
		return "", err
	}
	orderID := gjson.GetBytes(body, "content.orderId").String()
	if orderID == "" {
		return "", proxyerr.New(proxyerr.KindVendorProtocol, "upload response has no order id")
	}

	logger := l.cfg.Logger.With(slog.String("vendor", Name), slog.String("order_id", orderID))
	logger.Info("Audio uploaded for transcription", slog.Int("size", len(data)))

	rq := url.Values{}
	rq.Set("appId", l.cfg.AppID)
	rq.Set("signa", signa)
	rq.Set("ts", strconv.FormatInt(ts, 10))
	rq.Set("orderId", orderID)
	rq.Set("resultType", "transfer,predict")

	poll := func() (string, error) {
		body, err := l.post(ctx, "/getResult", rq, nil)
		if err != nil {
			if proxyerr.IsRetryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}

		switch status := gjson.GetBytes(body, "content.orderInfo.status").Int(); status {
		case orderDone:
			return ExtractTranscript(gjson.GetBytes(body, "content.orderResult").String())
		case orderFailed:
			failType := gjson.GetBytes(body, "content.orderInfo.failType").String()
			return "", backoff.Permanent(proxyerr.Vendor(failType, "transcription order failed"))
		default:
			logger.Debug("Transcription pending", slog.Int64("status", status))
			return "", errOrderPending
		}
	}

	text, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(l.cfg.PollInterval)),
		backoff.WithMaxElapsedTime(0))
	if err != nil {
		if errors.Is(err, errOrderPending) {
			return "", proxyerr.Wrap(proxyerr.KindNetwork, err, "transcription did not complete")
		}
		return "", err
	}

	logger.Info("Transcription completed", slog.Int("text_len", len(text)))
	return text, nil
}

func (l *LFASR) post(ctx context.Context, path string, q url.Values, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.cfg.LFASRURL+path+"?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindInternal, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindNetwork, err, "lfasr request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindNetwork, err, "failed to read lfasr response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &proxyerr.Error{Kind: proxyerr.KindAuth, Code: strconv.Itoa(resp.StatusCode), Message: string(body)}
	case resp.StatusCode >= 500:
		return nil, &proxyerr.Error{Kind: proxyerr.KindNetwork, Code: strconv.Itoa(resp.StatusCode), Message: "lfasr server error"}
	case resp.StatusCode != http.StatusOK:
		return nil, proxyerr.Vendor(strconv.Itoa(resp.StatusCode), string(body))
	}

	if !gjson.ValidBytes(body) {
		return nil, proxyerr.New(proxyerr.KindVendorProtocol, "malformed lfasr response")
	}
	if code := gjson.GetBytes(body, "code").String(); code != lfasrOK {
		return nil, proxyerr.Vendor(code, gjson.GetBytes(body, "descInfo").String())
	}
	return body, nil
}

// uploadDuration reports the audio length in seconds when the upload is a
// WAV file
func uploadDuration(data []byte) string {
	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return defaultDuration
	}
	secs := int(info.Duration)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ExtractTranscript pulls the words out of an orderResult document. It
// reads lattice2 first and falls back to lattice, whose json_1best is a
// nested JSON string.
func ExtractTranscript(orderResult string) (string, error) {
	if orderResult == "" {
		return "", nil
	}
	if !gjson.Valid(orderResult) {
		return "", proxyerr.New(proxyerr.KindVendorProtocol, "malformed order result")
	}

	var b strings.Builder
	gjson.Get(orderResult, "lattice2").ForEach(func(_, l gjson.Result) bool {
		b.WriteString(joinWords(l.Get("json_1best.st")))
		return true
	})
	if b.Len() > 0 {
		return b.String(), nil
	}

	var err error
	gjson.Get(orderResult, "lattice").ForEach(func(_, l gjson.Result) bool {
		best := l.Get("json_1best").String()
		if !gjson.Valid(best) {
			err = fmt.Errorf("malformed lattice entry")
			return false
		}
		b.WriteString(joinWords(gjson.Get(best, "st")))
		return true
	})
	if err != nil {
		return "", proxyerr.Wrap(proxyerr.KindVendorProtocol, err, "failed to parse order result")
	}
	return b.String(), nil
}
