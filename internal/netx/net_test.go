package netx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

func TestPutStream(t *testing.T) {
	t.Run("sends body, length and token", func(t *testing.T) {
		var gotBody, gotAuth, gotMethod string
		var gotLen int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotAuth = r.Header.Get("Authorization")
			gotLen = r.ContentLength
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := PutStream(context.Background(), ts.Client(), http.MethodPut, ts.URL+"/internal_backup/files/a/files/x", "tok", strings.NewReader("hello"), 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != http.MethodPut || gotAuth != "Bearer tok" || gotBody != "hello" || gotLen != 5 {
			t.Fatalf("unexpected request: %s %q %q %d", gotMethod, gotAuth, gotBody, gotLen)
		}
	})

	t.Run("error body keeps its kind", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "over quota: backup vault full", http.StatusInsufficientStorage)
		}))
		defer ts.Close()

		err := PutStream(context.Background(), ts.Client(), http.MethodPut, ts.URL, "", strings.NewReader("x"), -1)
		if !errors.Is(err, common.ErrorOverQuota) {
			t.Fatalf("expected over quota, got %v", err)
		}
	})

	t.Run("network error", func(t *testing.T) {
		err := PutStream(context.Background(), http.DefaultClient, http.MethodPut, "http://127.0.0.1:0/", "", strings.NewReader("x"), 1)
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestGetStream_Range(t *testing.T) {
	content := strings.NewReader("0123456789")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Unix(0, 0), content)
	}))
	defer ts.Close()

	body, partial, err := GetStream(context.Background(), ts.Client(), ts.URL, "t", 4)
	if err != nil {
		t.Fatalf("GetStream error: %v", err)
	}
	defer body.Close()
	b, _ := io.ReadAll(body)
	if !partial || string(b) != "456789" {
		t.Fatalf("got partial=%v body=%q", partial, b)
	}

	full, partial, err := GetStream(context.Background(), ts.Client(), ts.URL, "t", 0)
	if err != nil {
		t.Fatalf("GetStream error: %v", err)
	}
	defer full.Close()
	b, _ = io.ReadAll(full)
	if partial || string(b) != "0123456789" {
		t.Fatalf("got partial=%v body=%q", partial, b)
	}
}

func TestGetStream_RangeNotSatisfiable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Unix(0, 0), strings.NewReader("0123456789"))
	}))
	defer ts.Close()

	_, _, err := GetStream(context.Background(), ts.Client(), ts.URL, "t", 10)
	if !errors.Is(err, ErrRangeNotSatisfiable) {
		t.Fatalf("expected range not satisfiable at end, got %v", err)
	}
	_, _, err = GetStream(context.Background(), ts.Client(), ts.URL, "t", 25)
	if !errors.Is(err, ErrRangeNotSatisfiable) {
		t.Fatalf("expected range not satisfiable past end, got %v", err)
	}
}

func TestGetStream_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found: a/files/x", http.StatusNotFound)
	}))
	defer ts.Close()

	_, _, err := GetStream(context.Background(), ts.Client(), ts.URL, "", 0)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(strings.ToUpper(string(b))))
	}))
	defer ts.Close()

	rc, err := PostStream(context.Background(), ts.Client(), ts.URL, "", strings.NewReader("sig"))
	if err != nil {
		t.Fatalf("PostStream error: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "SIG" {
		t.Fatalf("unexpected body %q", b)
	}
}
