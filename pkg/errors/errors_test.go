package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code       Code
		status     int
		retryable  bool
		detailsOK  bool
		retryAfter int
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeDB, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true, retryAfter: 5},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeMissingHeader, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeInvalidTimestamp, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnconfiguredSecret, status: http.StatusUnauthorized, detailsOK: true},
		{code: CodeReplayWindowExceeded, status: http.StatusUnauthorized, detailsOK: true},
		{code: CodeBadSignature, status: http.StatusUnauthorized, detailsOK: true},
		{code: CodeRateLimited, status: http.StatusTooManyRequests, retryable: true, retryAfter: 60},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.RetryAfterSec != tt.retryAfter {
			t.Fatalf("code %s expected retry after %d got %d", tt.code, tt.retryAfter, meta.RetryAfterSec)
		}
		if !Known(tt.code) {
			t.Fatalf("code %s should be known", tt.code)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("something_unknown")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
	if Known("something_unknown") {
		t.Fatal("unexpected known code")
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDB, cause, "load alert")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeDB {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if wrapped.Error() != "db_error: load alert: boom" {
		t.Fatalf("unexpected error string %q", wrapped.Error())
	}
}

func TestAsAndIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "no entry"))
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if !IsCode(err, CodeForbidden) {
		t.Fatalf("expected IsCode to match")
	}
	if IsCode(stdErrors.New("plain"), CodeForbidden) {
		t.Fatalf("plain errors carry no code")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpIncludesChain(t *testing.T) {
	err := Wrap(CodeDB, stdErrors.New("connection refused"), "list alerts")
	d := Dump(err)
	if d.Code != CodeDB {
		t.Fatalf("expected db code, got %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	if d.PG != nil {
		t.Fatalf("plain errors carry no postgres detail")
	}
	if _, ok := d.Fields()["pg_code"]; ok {
		t.Fatalf("pg fields should be omitted without a driver error")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("expected empty dump for nil")
	}
}

func TestDumpExtractsPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: "uq_alert_fingerprint_live", TableName: "alert_outbox"}
	err := Wrap(CodeDB, fmt.Errorf("insert alert: %w", pgErr), "enqueue alert")

	d := Dump(err)
	if d.PG == nil || d.PG.Code != "23505" || d.PG.Constraint != "uq_alert_fingerprint_live" {
		t.Fatalf("unexpected pg detail %+v", d.PG)
	}
	fields := d.Fields()
	if fields["pg_table"] != "alert_outbox" || fields["error_code"] != CodeDB {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg column should be omitted")
	}

	pqDump := Dump(&pq.Error{Code: "40001", Message: "could not serialize"})
	if pqDump.PG == nil || pqDump.PG.Code != "40001" {
		t.Fatalf("expected pq detail, got %+v", pqDump.PG)
	}
}
