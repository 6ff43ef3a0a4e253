package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/camctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty key denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched key denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching key accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticKey{Key: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestKeyFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		query string
		want  string
	}{
		{name: "header", setup: func(r *http.Request) { r.Header.Set(HeaderAPIKey, " k1 ") }, want: "k1"},
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer k2") }, want: "k2"},
		{name: "basic ignored", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, want: ""},
		{name: "query", query: "?apikey=k3", want: "k3"},
		{name: "none", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/events"+tc.query, nil)
			if tc.setup != nil {
				tc.setup(r)
			}
			if got := KeyFromRequest(r); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/open", Middleware(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/closed", Middleware(StaticKey{Key: "abc"}), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path string
		key  string
		want int
	}{
		{"/open", "", http.StatusOK},
		{"/closed", "", http.StatusUnauthorized},
		{"/closed", "nope", http.StatusUnauthorized},
		{"/closed", "abc", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.key != "" {
			req.Header.Set(HeaderAPIKey, tc.key)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s key=%q: expected %d, got %d", tc.path, tc.key, tc.want, rr.Code)
		}
	}
}

func TestFuncValidator(t *testing.T) {
	validator := FuncValidator(func(key string) error {
		if key != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad key, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok key, got %v", err)
	}
}
