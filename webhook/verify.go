package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
	sigVersion      = "v0"

	// Requests older than this are rejected to blunt replay of captured
	// payloads, per Slack's verification guidance.
	maxSignatureSkew = 5 * time.Minute
)

// VerifySignature checks the Slack v0 request signature: an HMAC-SHA256 of
// "v0:<timestamp>:<body>" keyed with the app's signing secret.
func VerifySignature(secret string, header http.Header, body []byte, now time.Time) error {
	ts := header.Get(timestampHeader)
	if ts == "" {
		return errors.New("missing " + timestampHeader)
	}
	seconds, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q: %w", ts, err)
	}
	if skew := now.Sub(time.Unix(seconds, 0)); skew > maxSignatureSkew || skew < -maxSignatureSkew {
		return fmt.Errorf("timestamp outside %s window", maxSignatureSkew)
	}

	given := header.Get(signatureHeader)
	if given == "" {
		return errors.New("missing " + signatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", sigVersion, ts)
	mac.Write(body)
	want := sigVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(given), []byte(want)) {
		return errors.New("signature mismatch")
	}
	return nil
}
