package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"takt/internal/platform/net/middleware"
)

func writeStub(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
}

func TestOpsToken_EmptyTokenPassesThrough(t *testing.T) {
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(200)
	})

	mw := middleware.OpsToken("", writeStub)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)

	if !nextCalled {
		t.Fatal("expected next to be called")
	}
	if rr.Code != 200 {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestOpsToken_MissingHeaderRejected(t *testing.T) {
	mw := middleware.OpsToken("sekrit", writeStub)

	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/backfill", nil)
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)

	if nextCalled {
		t.Fatal("next should not run on missing token")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestOpsToken_WrongTokenRejected(t *testing.T) {
	mw := middleware.OpsToken("sekrit", writeStub)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not run on bad token")
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/backfill", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestOpsToken_MatchAllowed(t *testing.T) {
	mw := middleware.OpsToken("sekrit", writeStub)

	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(204)
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/backfill", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)

	if !nextCalled {
		t.Fatal("expected next to be called")
	}
	if rr.Code != 204 {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
}
