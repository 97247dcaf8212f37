package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of each delivery when a signing secret is
// configured.
//
// Format: t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">
const SignatureHeader = "X-GeoWatch-Signature"

// Sign returns the signature header value for payload at now.
func Sign(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(ts, payload, secret))
}

// Verify checks header against payload. Signatures older than tolerance
// relative to now are rejected; a zero tolerance disables the age check.
// Receivers can use it to authenticate deliveries.
func Verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) bool {
	var ts int64
	var sig string
	for _, segment := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(segment), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return false
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}
	return hmac.Equal([]byte(sig), []byte(computeHMAC(ts, payload, secret)))
}

func computeHMAC(ts int64, payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
