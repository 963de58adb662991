package xunfei

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Signa computes the RTASR/LFASR signature:
// base64(HMAC-SHA1(secret, md5hex(appID + ts)))
func Signa(appID, secret string, ts int64) string {
	sum := md5.Sum([]byte(appID + strconv.FormatInt(ts, 10)))
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(hex.EncodeToString(sum[:])))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signedQuery returns the appid/ts/signa query used by RTASR and LFASR
func signedQuery(appID, secret string, now time.Time) url.Values {
	ts := now.Unix()
	q := url.Values{}
	q.Set("appid", appID)
	q.Set("ts", strconv.FormatInt(ts, 10))
	q.Set("signa", Signa(appID, secret, ts))
	return q
}

// AuthURL signs a WebSocket API URL with the HMAC-SHA256 request-line scheme
func AuthURL(rawURL, host, apiKey, apiSecret string, now time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if host == "" {
		host = u.Host
	}

	date := now.UTC().Format(http.TimeFormat)
	origin := "host: " + host + "\n" +
		"date: " + date + "\n" +
		"GET " + u.Path + " HTTP/1.1"

	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authorization := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		apiKey, signature)

	q := url.Values{}
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authorization)))
	q.Set("date", date)
	q.Set("host", host)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
