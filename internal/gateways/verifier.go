package gateways

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
)

const DefaultReplayTTL = time.Hour

// Wire headers carried by every gateway call.
const (
	HeaderSerial    = "X-Gateway-Serial"
	HeaderTimestamp = "X-Gateway-Timestamp"
	HeaderSignature = "X-Gateway-Signature"
)

// Reason is a machine readable rejection code.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMissingHeader        Reason = Reason(pkgerrors.CodeMissingHeader)
	ReasonInvalidTimestamp     Reason = Reason(pkgerrors.CodeInvalidTimestamp)
	ReasonUnconfiguredSecret   Reason = Reason(pkgerrors.CodeUnconfiguredSecret)
	ReasonReplayWindowExceeded Reason = Reason(pkgerrors.CodeReplayWindowExceeded)
	ReasonBadSignature         Reason = Reason(pkgerrors.CodeBadSignature)
)

// Request is the authenticated envelope of one gateway call. Body must be the
// exact bytes received on the wire.
type Request struct {
	Serial    string
	Timestamp string
	Signature string
	Body      []byte
}

// Diagnostics is attached to a Result only when the diagnostics flag is on.
type Diagnostics struct {
	SecretKey       string `json:"secret_key"`
	SkewSeconds     int64  `json:"skew_seconds"`
	TTLSeconds      int64  `json:"ttl_seconds"`
	ReplayCheck     bool   `json:"replay_check"`
	BodyBytes       int    `json:"body_bytes"`
	SignatureLength int    `json:"signature_length"`
}

type Result struct {
	Accepted    bool         `json:"accepted"`
	Serial      string       `json:"serial"`
	Reason      Reason       `json:"reason,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Err converts a rejection into the public error taxonomy. Diagnostics, when
// collected, travel as the error details.
func (r Result) Err() error {
	if r.Accepted {
		return nil
	}
	code := pkgerrors.Code(r.Reason)
	err := pkgerrors.New(code, pkgerrors.MetadataFor(code).PublicMessage)
	if r.Diagnostics != nil {
		err = err.WithDetails(r.Diagnostics)
	}
	return err
}

type VerifierConfig struct {
	ReplayTTL           time.Duration
	ReplayCheckDisabled bool
	Diagnostics         bool
}

// VerifierConfigFrom maps the process configuration onto the verifier.
func VerifierConfigFrom(cfg config.GatewayConfig) VerifierConfig {
	return VerifierConfig{
		ReplayTTL:           cfg.ReplayTTL,
		ReplayCheckDisabled: cfg.ReplayCheckDisabled,
		Diagnostics:         cfg.Diagnostics,
	}
}

// Verifier checks gateway signatures. It never writes.
type Verifier struct {
	cfg      VerifierConfig
	resolver SecretResolver
	metrics  *metrics.GatewayMetrics
}

func NewVerifier(cfg VerifierConfig, resolver SecretResolver, m *metrics.GatewayMetrics) (*Verifier, error) {
	if resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "secret resolver is required")
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = DefaultReplayTTL
	}
	return &Verifier{cfg: cfg, resolver: resolver, metrics: m}, nil
}

// Verify validates authenticity and freshness of req at now. A non-nil error
// means the secret store failed and no decision was made.
func (v *Verifier) Verify(ctx context.Context, req Request, now time.Time) (Result, error) {
	res, err := v.verify(ctx, req, now)
	if err == nil {
		v.metrics.ObserveVerification(string(res.Reason))
	}
	return res, err
}

func (v *Verifier) verify(ctx context.Context, req Request, now time.Time) (Result, error) {
	serial := strings.TrimSpace(req.Serial)
	timestamp := strings.TrimSpace(req.Timestamp)
	signature := strings.TrimSpace(req.Signature)

	res := Result{Serial: serial}
	var diag *Diagnostics
	if v.cfg.Diagnostics {
		diag = &Diagnostics{
			TTLSeconds:      int64(v.cfg.ReplayTTL / time.Second),
			ReplayCheck:     !v.cfg.ReplayCheckDisabled,
			BodyBytes:       len(req.Body),
			SignatureLength: len(signature),
		}
		res.Diagnostics = diag
	}

	if serial == "" || timestamp == "" || signature == "" {
		return res.reject(ReasonMissingHeader), nil
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return res.reject(ReasonInvalidTimestamp), nil
	}

	key := config.SecretKey(serial)
	if diag != nil {
		diag.SecretKey = key
		diag.SkewSeconds = now.Unix() - ts
	}

	secret, ok, err := v.resolver.Resolve(ctx, key)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDB, err, "resolve gateway secret")
	}
	if !ok || secret == "" {
		return res.reject(ReasonUnconfiguredSecret), nil
	}

	if !v.cfg.ReplayCheckDisabled {
		skew := now.Unix() - ts
		if skew < 0 {
			skew = -skew
		}
		if skew > int64(v.cfg.ReplayTTL/time.Second) {
			return res.reject(ReasonReplayWindowExceeded), nil
		}
	}

	provided, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return res.reject(ReasonBadSignature), nil
	}
	expected := Sign(secret, timestamp, req.Body)
	if len(provided) != len(expected) {
		return res.reject(ReasonBadSignature), nil
	}
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return res.reject(ReasonBadSignature), nil
	}

	res.Accepted = true
	return res, nil
}

func (r Result) reject(reason Reason) Result {
	r.Accepted = false
	r.Reason = reason
	return r
}

// Sign computes HMAC-SHA256(secret, "<timestamp>.<body>").
func Sign(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way gateways send it.
func SignHex(secret, timestamp string, body []byte) string {
	return hex.EncodeToString(Sign(secret, timestamp, body))
}
