package xunfei

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSigna(t *testing.T) {
	got := Signa("app1", "secret", 1700000000)
	if got != "qWt+SSzN7CnuWi2Id2XsMNdgvHg=" {
		t.Errorf("Signa() = %q", got)
	}
}

func TestAuthURL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	raw, err := AuthURL("wss://tts-api.xfyun.cn/v2/tts", DefaultTTSHost, "key", "sec", now)
	if err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	q := u.Query()

	if q.Get("host") != DefaultTTSHost {
		t.Errorf("host = %q", q.Get("host"))
	}
	if q.Get("date") != "Tue, 14 Nov 2023 22:13:20 GMT" {
		t.Errorf("date = %q", q.Get("date"))
	}

	auth, err := base64.StdEncoding.DecodeString(q.Get("authorization"))
	if err != nil {
		t.Fatalf("authorization not base64: %v", err)
	}
	want := `api_key="key", algorithm="hmac-sha256", headers="host date request-line", signature="gaYUnVzrcEEU6sBTJQ4OKRsH6nQVUIyd3imcwZC+lJY="`
	if string(auth) != want {
		t.Errorf("authorization = %q", auth)
	}
	if !strings.HasPrefix(raw, "wss://tts-api.xfyun.cn/v2/tts?") {
		t.Errorf("url = %q", raw)
	}
}
