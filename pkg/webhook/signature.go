// Package webhook authenticates and routes inbound provider webhooks.
// Signature verification is pure compute with no I/O; routing resolves the
// tenant and hands verified events to the job producer.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Scheme selects how a provider signs its webhook payloads.
type Scheme int

const (
	// SchemeHMACTimestamp verifies a "t=<unix>,v1=<hex>" header: an
	// HMAC-SHA256 over "<timestamp>.<payload>" plus a replay window.
	SchemeHMACTimestamp Scheme = iota

	// SchemeStaticToken verifies a header carrying HMAC-SHA256(secret,
	// payload) directly, with no timestamp component.
	SchemeStaticToken
)

// Reason explains why verification failed.
type Reason string

const (
	ReasonMissingSignature Reason = "missing_signature"
	ReasonMissingSecret    Reason = "missing_secret"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonTimestampExpired Reason = "timestamp_expired"
)

// VerificationResult is the typed outcome of Verify. Malformed input is an
// Invalid result, never a panic or error.
type VerificationResult struct {
	Valid  bool
	Reason Reason
}

// TimestampTolerance is the replay window for SchemeHMACTimestamp.
const TimestampTolerance = 300 * time.Second

func valid() VerificationResult {
	return VerificationResult{Valid: true}
}

func invalid(reason Reason) VerificationResult {
	return VerificationResult{Reason: reason}
}

// Verify checks the authenticity of a raw webhook payload against the
// provider secret. Pure function over its inputs; never logs secrets.
func Verify(rawPayload []byte, signatureHeader, secret string, scheme Scheme) VerificationResult {
	return verifyAt(rawPayload, signatureHeader, secret, scheme, time.Now())
}

func verifyAt(rawPayload []byte, signatureHeader, secret string, scheme Scheme, now time.Time) VerificationResult {
	if secret == "" {
		return invalid(ReasonMissingSecret)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return invalid(ReasonMissingSignature)
	}

	switch scheme {
	case SchemeHMACTimestamp:
		return verifyHMACTimestamp(rawPayload, signatureHeader, secret, now)
	case SchemeStaticToken:
		return verifyStaticToken(rawPayload, signatureHeader, secret)
	default:
		return invalid(ReasonBadSignature)
	}
}

func verifyHMACTimestamp(rawPayload []byte, header, secret string, now time.Time) VerificationResult {
	timestamp, signature := parseSignatureHeader(header)
	if timestamp == "" || signature == "" {
		return invalid(ReasonBadSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return invalid(ReasonBadSignature)
	}

	signed := make([]byte, 0, len(timestamp)+1+len(rawPayload))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, rawPayload...)
	expected := computeHMAC(secret, signed)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return invalid(ReasonBadSignature)
	}

	// Checked independently of the signature so a replayed request is
	// rejected even when its signature still matches.
	if now.Unix()-ts > int64(TimestampTolerance/time.Second) {
		return invalid(ReasonTimestampExpired)
	}

	return valid()
}

func verifyStaticToken(rawPayload []byte, token, secret string) VerificationResult {
	expected := computeHMAC(secret, rawPayload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) != 1 {
		return invalid(ReasonBadSignature)
	}
	return valid()
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>" into its parts. Unknown
// elements are ignored; absent parts come back empty.
func parseSignatureHeader(header string) (timestamp, signature string) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signature = value
		}
	}
	return timestamp, signature
}

func computeHMAC(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
