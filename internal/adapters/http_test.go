package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"kin-go/internal/kin"
)

func rec(id, email string) Record {
	return Record{SourceType: "email", SourceID: id, Email: email, ObservedAt: t0}
}

func newFeed(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestHTTPAdapter_Fetch(t *testing.T) {
	t.Run("pages through the feed", func(t *testing.T) {
		t.Parallel()
		var (
			mu     sync.Mutex
			sinces []string
		)
		srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/observations" || r.Header.Get("Authorization") != "Bearer secret" {
				writeJSON(w, http.StatusUnauthorized, feedError{Error: "bad request"})
				return
			}
			mu.Lock()
			sinces = append(sinces, r.URL.Query().Get("since"))
			mu.Unlock()
			switch r.URL.Query().Get("cursor") {
			case "":
				writeJSON(w, http.StatusOK, feedPage{Observations: []Record{rec("m1", "a@example.com"), rec("m2", "noreply@example.com")}, NextCursor: "p2"})
			case "p2":
				writeJSON(w, http.StatusOK, feedPage{Observations: []Record{rec("m3", "b@example.com"), {SourceID: "bad"}}})
			}
		})
		a := NewHTTPAdapter("feed", 1, srv.URL, "secret", kin.SourceEmail, NewSenderFilter([]string{"noreply@*"}), "US", kin.NewNopLogger())

		since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		got, err := a.Fetch(context.Background(), since)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if ids := sourceIDs(got); ids != "m1,m3" {
			t.Errorf("Fetch() = %s, want m1,m3", ids)
		}
		mu.Lock()
		defer mu.Unlock()
		if !slices.Equal(sinces, []string{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"}) {
			t.Errorf("since params = %v", sinces)
		}
	})

	t.Run("error status keeps earlier pages", func(t *testing.T) {
		t.Parallel()
		srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("cursor") == "" {
				writeJSON(w, http.StatusOK, feedPage{Observations: []Record{rec("m1", "a@example.com")}, NextCursor: "p2"})
				return
			}
			writeJSON(w, http.StatusBadGateway, feedError{Error: "upstream timeout"})
		})
		a := NewHTTPAdapter("feed", 0, srv.URL, "", kin.SourceEmail, nil, "US", kin.NewNopLogger())

		got, err := a.Fetch(context.Background(), time.Time{})
		if err == nil {
			t.Fatal("Fetch() expected error")
		}
		if ids := sourceIDs(got); ids != "m1" {
			t.Errorf("partial = %s, want m1", ids)
		}
	})

	t.Run("deadline is reported", func(t *testing.T) {
		t.Parallel()
		srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		a := NewHTTPAdapter("feed", 0, srv.URL, "", kin.SourceEmail, nil, "US", kin.NewNopLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := a.Fetch(ctx, time.Time{}); err == nil {
			t.Error("Fetch() expected deadline error")
		}
	})
}

func TestHTTPAdapter_FetchForPerson(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		emails []string
	)
	srv := newFeed(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		emails = r.URL.Query()["email"]
		mu.Unlock()
		writeJSON(w, http.StatusOK, feedPage{Observations: []Record{rec("m1", "a@example.com"), rec("m2", "other@example.com")}})
	})
	a := NewHTTPAdapter("feed", 0, srv.URL, "", kin.SourceEmail, nil, "US", kin.NewNopLogger())

	got, err := a.FetchForPerson(context.Background(), &kin.PersonEntity{ID: "p1", Emails: []string{"a@example.com", "a2@example.com"}})
	if err != nil {
		t.Fatalf("FetchForPerson() error = %v", err)
	}
	if ids := sourceIDs(got); ids != "m1" {
		t.Errorf("FetchForPerson() = %s, want m1", ids)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(emails, []string{"a@example.com", "a2@example.com"}) {
		t.Errorf("email params = %v", emails)
	}

	none, err := a.FetchForPerson(context.Background(), &kin.PersonEntity{ID: "p2"})
	if err != nil || none != nil {
		t.Errorf("person without identifiers = %v, %v", none, err)
	}
}
