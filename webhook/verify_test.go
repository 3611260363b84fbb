package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func signedHeader(secret, body string, ts time.Time) http.Header {
	seconds := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", seconds, body)

	header := http.Header{}
	header.Set(timestampHeader, seconds)
	header.Set(signatureHeader, "v0="+hex.EncodeToString(mac.Sum(nil)))
	return header
}

// TestVerifySignatureAccepts tests that a correctly signed request passes.
func TestVerifySignatureAccepts(t *testing.T) {
	now := time.Now()
	header := signedHeader("s3cr3t", `{"ok":true}`, now)

	if err := VerifySignature("s3cr3t", header, []byte(`{"ok":true}`), now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

// TestVerifySignatureRejectsTamperedBody tests that changing the body after
// signing invalidates the signature.
func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	header := signedHeader("s3cr3t", `{"ok":true}`, now)

	if err := VerifySignature("s3cr3t", header, []byte(`{"ok":false}`), now); err == nil {
		t.Fatalf("expected mismatch for tampered body")
	}
}

// TestVerifySignatureRejectsWrongSecret tests that a signature made with a
// different secret fails.
func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	header := signedHeader("other", `{"ok":true}`, now)

	if err := VerifySignature("s3cr3t", header, []byte(`{"ok":true}`), now); err == nil {
		t.Fatalf("expected mismatch for wrong secret")
	}
}

// TestVerifySignatureRejectsStaleTimestamp tests the replay window: a
// signature older than the skew limit is rejected even when valid.
func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	header := signedHeader("s3cr3t", `{"ok":true}`, now.Add(-maxSignatureSkew-time.Minute))

	if err := VerifySignature("s3cr3t", header, []byte(`{"ok":true}`), now); err == nil {
		t.Fatalf("expected rejection for stale timestamp")
	}
}

// TestVerifySignatureRejectsMissingHeaders tests that absent headers are an
// error rather than an empty-string comparison.
func TestVerifySignatureRejectsMissingHeaders(t *testing.T) {
	now := time.Now()

	if err := VerifySignature("s3cr3t", http.Header{}, []byte("body"), now); err == nil {
		t.Fatalf("expected error for missing timestamp")
	}

	header := http.Header{}
	header.Set(timestampHeader, strconv.FormatInt(now.Unix(), 10))
	if err := VerifySignature("s3cr3t", header, []byte("body"), now); err == nil {
		t.Fatalf("expected error for missing signature")
	}
}

// TestVerifySignatureRejectsBadTimestamp tests non-numeric timestamps.
func TestVerifySignatureRejectsBadTimestamp(t *testing.T) {
	header := http.Header{}
	header.Set(timestampHeader, "not-a-number")
	header.Set(signatureHeader, "v0=00")

	if err := VerifySignature("s3cr3t", header, []byte("body"), time.Now()); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
}
