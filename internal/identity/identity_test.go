package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"infothon/internal/model"
)

func TestUnionIsIdempotent(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		added    []string
	}{
		{"empty", nil, []string{"ctf"}},
		{"overlap", []string{"ctf", "hackathon"}, []string{"hackathon", "codesprint"}},
		{"duplicates in input", []string{"ctf", "ctf"}, []string{"codesprint", "codesprint"}},
		{"nothing new", []string{"pass-all"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := Union(tc.existing, tc.added...)
			twice := Union(once, tc.added...)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("union not idempotent: %v vs %v", once, twice)
			}
			for _, id := range tc.existing {
				if !contains(once, id) {
					t.Fatalf("existing id %q was dropped", id)
				}
			}
		})
	}
}

func TestDedupeKeepsOrder(t *testing.T) {
	got := Dedupe([]string{"b", "a", "", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe = %v, want %v", got, want)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestClientGetAndUpdateUser(t *testing.T) {
	var updated model.UserProfile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    "user-1",
				"email": "asha@example.com",
				"user_metadata": map[string]any{
					"full_name":        "Asha",
					"purchased_events": []string{"ctf"},
				},
			})
		case http.MethodPut:
			var req updateUserRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			updated = req.Data
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "anon-key", 0)
	ctx := context.Background()

	u, err := c.GetUser(ctx, "good-token")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.ID != "user-1" || u.Metadata.FullName != "Asha" || !reflect.DeepEqual(u.Metadata.PurchasedEvents, []string{"ctf"}) {
		t.Fatalf("unexpected user: %+v", u)
	}

	profile := u.Metadata
	profile.PurchasedEvents = Union(profile.PurchasedEvents, "hackathon")
	if err := c.UpdateUser(ctx, "good-token", profile); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if !reflect.DeepEqual(updated.PurchasedEvents, []string{"ctf", "hackathon"}) {
		t.Fatalf("server saw %v", updated.PurchasedEvents)
	}

	if _, err := c.GetUser(ctx, "bad-token"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := c.GetUser(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty token: expected ErrUnauthenticated, got %v", err)
	}
}

func TestClientServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 0).GetUser(context.Background(), "t")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
