package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeProber map[string]error

func (f fakeProber) Probe(context.Context) map[string]error {
	out := make(map[string]error, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func ok(context.Context) error { return nil }

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(fakeProber{"coqui": errors.New("down")})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusOK {
		t.Errorf("status = %q, want %q", body.Status, StatusOK)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name       string
		prober     Prober
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all providers healthy",
			prober:     fakeProber{"elevenlabs": nil, "coqui": nil},
			checkers:   []Checker{{Name: "database", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"database": "ok", "providers": "ok"},
		},
		{
			name:       "one provider down degrades",
			prober:     fakeProber{"elevenlabs": down, "coqui": nil},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"providers": "degraded"},
		},
		{
			name:       "all providers down fails",
			prober:     fakeProber{"elevenlabs": down},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"providers": "fail: no healthy provider"},
		},
		{
			name:       "no providers configured fails",
			prober:     fakeProber{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
		},
		{
			name:   "required checker fails",
			prober: fakeProber{"coqui": nil},
			checkers: []Checker{{Name: "database", Check: func(context.Context) error {
				return down
			}}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"database": "fail: connection refused", "providers": "ok"},
		},
		{
			name: "optional checker degrades",
			checkers: []Checker{{Name: "registry", Optional: true, Check: func(context.Context) error {
				return down
			}}},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"registry": "fail: connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tt.prober, tt.checkers...))
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("checks[%q] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_ProviderDetail(t *testing.T) {
	t.Parallel()
	_, body := readyz(t, New(fakeProber{"elevenlabs": errors.New("missing api key"), "coqui": nil}))

	if body.Providers["elevenlabs"] != "fail: missing api key" {
		t.Errorf("providers[elevenlabs] = %q", body.Providers["elevenlabs"])
	}
	if body.Providers["coqui"] != "ok" {
		t.Errorf("providers[coqui] = %q", body.Providers["coqui"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	h := New(fakeProber{"coqui": nil}, Checker{Name: "test", Check: ok})

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(nil, Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
