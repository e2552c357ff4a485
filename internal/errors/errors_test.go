package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestMapHTTPErrorStatuses(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, "invalid_api_key"},
		{http.StatusPaymentRequired, "insufficient_credits"},
		{http.StatusForbidden, "permission_denied"},
		{http.StatusTooManyRequests, "rate_limit_exceeded"},
		{http.StatusBadGateway, "bad_gateway"},
		{http.StatusGatewayTimeout, "timeout"},
		{599, "unknown_error"},
	}
	for _, tc := range cases {
		if got := MapHTTPError(tc.status, nil); got.Code != tc.code || got.HTTPStatus != tc.status {
			t.Fatalf("status %d: got %s/%d", tc.status, got.Code, got.HTTPStatus)
		}
	}
}

func TestMapHTTPErrorExtractsUpstreamMessage(t *testing.T) {
	body := []byte(`{"error":{"message":"model is overloaded"}}`)
	e := MapHTTPError(http.StatusServiceUnavailable, body)
	if e.Message != "model is overloaded" {
		t.Fatalf("unexpected message: %s", e.Message)
	}
	flat := []byte(`{"message":"throttled"}`)
	if e := MapHTTPError(http.StatusTooManyRequests, flat); e.Message != "throttled" {
		t.Fatalf("flat message not extracted: %s", e.Message)
	}
}

func TestMapNetworkError(t *testing.T) {
	if e := MapNetworkError(errors.New("dial tcp: i/o timeout")); e.HTTPStatus != http.StatusGatewayTimeout {
		t.Fatalf("timeout should map to 504, got %d", e.HTTPStatus)
	}
	if e := MapNetworkError(errors.New("connection refused")); e.Code != "connection_error" {
		t.Fatalf("expected connection_error, got %s", e.Code)
	}
	if e := MapNetworkError(errors.New("lookup host: no such host")); e.Code != "dns_error" {
		t.Fatalf("expected dns_error, got %s", e.Code)
	}
}

func TestToJSONFormats(t *testing.T) {
	e := New(http.StatusPaymentRequired, "insufficient_credits", "billing_error", "not enough credits")

	b, err := e.ToJSON(FormatOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	var oa OpenAIError
	if err := json.Unmarshal(b, &oa); err != nil {
		t.Fatal(err)
	}
	if oa.Error.Code != "insufficient_credits" || oa.Error.Message != "not enough credits" {
		t.Fatalf("openai envelope wrong: %+v", oa)
	}

	b, err = e.ToJSON(FormatAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	var an AnthropicError
	if err := json.Unmarshal(b, &an); err != nil {
		t.Fatal(err)
	}
	if an.Type != "error" || an.Error.Type != "billing_error" {
		t.Fatalf("anthropic envelope wrong: %+v", an)
	}
}

func TestIsRetryable(t *testing.T) {
	if !New(429, "rate_limit_exceeded", "rate_limit_error", "").IsRetryable() {
		t.Fatalf("429 should be retryable")
	}
	if New(400, "invalid_request_error", "invalid_request_error", "").IsRetryable() {
		t.Fatalf("400 should not be retryable")
	}
}
