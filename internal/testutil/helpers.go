package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

// AssertNoError stops the test on err
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertNotNil stops the test when v is nil or a typed nil
func AssertNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected a value, got nil")
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		if rv.IsNil() {
			t.Fatalf("expected a value, got nil %T", v)
		}
	}
}

func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("expected true: %s", msg)
	}
}

func AssertContains(t *testing.T, s, substring string) {
	t.Helper()
	if !strings.Contains(s, substring) {
		t.Errorf("%q does not contain %q", s, substring)
	}
}

func AssertLen[T any](t *testing.T, items []T, want int) {
	t.Helper()
	if len(items) != want {
		t.Errorf("got %d items, want %d", len(items), want)
	}
}

// Response helpers

func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status: got %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, want string) {
	t.Helper()
	if got := w.Header().Get(key); got != want {
		t.Errorf("header %s: got %q, want %q", key, got, want)
	}
}

// DecodeJSON reads the recorded body into T without consuming it
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (body %s)", err, w.Body.String())
	}
	return out
}

// AssertJSONResponse checks the status and returns the decoded object
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	AssertStatusCode(t, w, wantStatus)
	return DecodeJSON[map[string]any](t, w)
}

// AssertJSONContains checks one top-level key of a JSON object response.
// Numbers decode as float64.
func AssertJSONContains(t *testing.T, w *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	body := DecodeJSON[map[string]any](t, w)

	got, ok := body[key]
	if !ok {
		t.Errorf("response has no %q key (body %s)", key, w.Body.String())
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s: got %v (%T), want %v (%T)", key, got, got, want, want)
	}
}
