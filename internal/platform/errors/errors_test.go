package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("router: %w", Wrap(CodeNetworkUnavailable, "fetch upstream", stderrors.New("dial tcp: refused")))
	if !stderrors.Is(err, &Error{Code: CodeNetworkUnavailable}) {
		t.Fatal("expected errors.Is to match by code through wrapping")
	}
	if stderrors.Is(err, &Error{Code: CodeInstallAborted}) {
		t.Fatal("expected different code not to match")
	}
	if !HasCode(err, CodeNetworkUnavailable) {
		t.Fatal("expected HasCode to report wrapped code")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeInstallAborted, "precache /manifest.json", stderrors.New("status 404"))
	if got := err.Error(); got != "precache /manifest.json: status 404" {
		t.Fatalf("Error() = %q", got)
	}
	if got := New(CodeNoClients, "no clients").Error(); got != "no clients" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "plain error", err: stderrors.New("boom"), want: http.StatusInternalServerError},
		{name: "network", err: New(CodeNetworkUnavailable, "offline"), want: http.StatusBadGateway},
		{name: "invalid location", err: New(CodeInvalidLocation, "lat"), want: http.StatusBadRequest},
		{name: "push token", err: New(CodeInvalidPushToken, "bad"), want: http.StatusUnauthorized},
		{name: "nothing waiting", err: New(CodeNothingWaiting, "idle"), want: http.StatusConflict},
		{name: "install aborted", err: fmt.Errorf("wrap: %w", New(CodeInstallAborted, "404")), want: http.StatusServiceUnavailable},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestCodeOfUnknown(t *testing.T) {
	t.Parallel()

	if got := CodeOf(stderrors.New("x")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
}
