package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/outblock/match-executor/internal/model"
)

type fakeReporter struct {
	chainID  uint64
	pending  int
	rejects  map[model.RejectCode]int
	lastN    int
	lastAt   time.Time
}

func (f fakeReporter) ChainID() uint64                           { return f.chainID }
func (f fakeReporter) PendingCount() int                         { return f.pending }
func (f fakeReporter) RejectCounts() map[model.RejectCode]int    { return f.rejects }
func (f fakeReporter) LastSubmitted() (int, time.Time)           { return f.lastN, f.lastAt }

type fakeRetrier struct {
	retried  []string
	chainIDs []uint64
	err      error
}

func (f *fakeRetrier) Retry(_ context.Context, chainID uint64, id string) error {
	if f.err != nil {
		return f.err
	}
	f.retried = append(f.retried, id)
	f.chainIDs = append(f.chainIDs, chainID)
	return nil
}

func TestHandleHealth(t *testing.T) {
	s := New(nil, nil, "secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStatusReportsRegisteredChains(t *testing.T) {
	s := New(nil, nil, "secret")
	s.RegisterChain(fakeReporter{chainID: 1, pending: 3, rejects: map[model.RejectCode]int{model.RejectBundleTooLarge: 2}, lastN: 5, lastAt: time.Now()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload statusPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Chains) != 1 || payload.Chains[0].ChainID != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Chains[0].PendingCount != 3 || payload.Chains[0].LastBundleSize != 5 {
		t.Errorf("unexpected chain status: %+v", payload.Chains[0])
	}
}

func TestAdminRetryRequiresAuth(t *testing.T) {
	retrier := &fakeRetrier{}
	s := New(retrier, nil, "secret")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin/chains/1/retry/m1", nil)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(retrier.retried) != 0 {
		t.Error("retry should not have run without auth")
	}
}

func TestAdminRetrySucceedsWithValidJWT(t *testing.T) {
	retrier := &fakeRetrier{}
	s := New(retrier, nil, "secret")

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin/chains/1/retry/m1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	if len(retrier.retried) != 1 || retrier.retried[0] != "m1" {
		t.Errorf("expected retry of m1, got %v", retrier.retried)
	}
}

func TestAdminRetryRejectsWrongSigningSecret(t *testing.T) {
	retrier := &fakeRetrier{}
	s := New(retrier, nil, "secret")

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin/chains/1/retry/m1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
