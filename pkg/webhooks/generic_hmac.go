package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Signature-Timestamp"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"
	hmacScheme      = "hmac-sha256-ts/v1"
)

type hmacVerifier struct {
	source  string
	maxSkew time.Duration
}

// NewHMACVerifier checks X-Signature = hex(HMAC-SHA256(secret, timestamp + "." + body))
// and rejects timestamps further than maxSkew from the receive time.
func NewHMACVerifier(source string, maxSkew time.Duration) Verifier {
	return &hmacVerifier{source: strings.TrimSpace(source), maxSkew: maxSkew}
}

func (v *hmacVerifier) Source() string {
	return v.source
}

// Sign returns the header value a sender puts in X-Signature.
func Sign(secret string, ts time.Time, body []byte) string {
	return hex.EncodeToString(mac(secret, strconv.FormatInt(ts.Unix(), 10), body))
}

func mac(secret, ts string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(ts))
	_, _ = m.Write([]byte("."))
	_, _ = m.Write(body)
	return m.Sum(nil)
}

func (v *hmacVerifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("webhook verifier secret is empty")
	}

	res := VerificationResult{
		Scheme: hmacScheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
			"timestamp_valid":          false,
			"within_tolerance":         false,
			"source":                   v.source,
		},
		EventID:   strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType: strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	tsRaw := strings.TrimSpace(headers.Get(TimestampHeader))
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return res, nil
	}
	res.Details["timestamp_valid"] = true
	res.SignedAt = time.Unix(ts, 0).UTC()

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	providedSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	if !hmac.Equal(mac(secret, tsRaw, rawBody), providedSig) {
		return res, nil
	}
	skew := receivedAt.Sub(res.SignedAt)
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return res, nil
	}
	res.Details["within_tolerance"] = true
	res.Valid = true
	return res, nil
}
