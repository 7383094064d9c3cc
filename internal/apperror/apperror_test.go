package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus_ByKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(InvalidInput, "svc.report.summary", nil), http.StatusBadRequest},
		{New(NotFound, "repo.endpoint.get", nil), http.StatusNotFound},
		{New(Dependency, "svc.sweep", errors.New("registry down")), http.StatusBadGateway},
		{New(DatabaseErr, "repo.record.query", errors.New("boom")), http.StatusInternalServerError},
		{New(RequestTimeout, "repo.record.query", nil), http.StatusGatewayTimeout},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestIsKind_ThroughWrapping(t *testing.T) {
	base := New(NotFound, "repo.endpoint.get", nil).WithMessage("endpoint not found")
	wrapped := fmt.Errorf("lookup: %w", base)
	if !IsKind(wrapped, NotFound) {
		t.Fatalf("expected NotFound through wrapping")
	}
	if MessageOf(wrapped) != "endpoint not found" {
		t.Fatalf("unexpected message %q", MessageOf(wrapped))
	}
	if MessageOf(errors.New("secret dsn")) != "internal server error" {
		t.Fatalf("internal detail leaked")
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(Dependency, "svc.sweep", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if err.Error() != "svc.sweep: connection refused" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
}
