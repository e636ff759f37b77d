package httpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("To") != "+15550001111" {
			t.Errorf("To = %q", r.PostForm.Get("To"))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	form := url.Values{}
	form.Set("To", "+15550001111")

	resp, err := PostForm(context.Background(), nil, srv.URL, BasicAuth{Username: "AC1", Password: "secret"}, form)
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
}

func TestGetWithoutAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("no credentials expected")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), NewClient(DefaultTimeout), srv.URL, BasicAuth{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
}
