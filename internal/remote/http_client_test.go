// Package remote tests for the HTTP authority client.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwlin/recallbox/internal/models"
)

func TestHTTPClient_FetchChangedSince(t *testing.T) {
	var gotPath, gotSince, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]models.EntityPayload{
			{Card: &models.Card{ID: "c1", Front: "q", UpdatedAt: 2000, SyncVersion: 3}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{
		BaseURL:   server.URL,
		AccountID: "acct-1",
		AuthToken: "tok",
	})

	items, err := client.FetchChangedSince(context.Background(), models.KindCard, 1500)
	if err != nil {
		t.Fatalf("FetchChangedSince failed: %v", err)
	}

	if gotPath != "/v1/accounts/acct-1/card" {
		t.Errorf("Expected account-scoped path, got %s", gotPath)
	}
	if gotSince != "1500" {
		t.Errorf("Expected since=1500, got %s", gotSince)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Expected bearer token header, got %q", gotAuth)
	}
	if len(items) != 1 || items[0].Card == nil || items[0].Card.ID != "c1" {
		t.Errorf("Expected the seeded card back, got %+v", items)
	}
}

func TestHTTPClient_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL, AccountID: "acct-1"})

	if _, err := client.FetchChangedSince(context.Background(), models.KindCard, 0); err == nil {
		t.Fatal("Expected error on 500 response")
	}
}

func TestHTTPClient_Upsert(t *testing.T) {
	var gotMethod string
	var gotItems []models.EntityPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotItems)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL, AccountID: "acct-1"})

	err := client.Upsert(context.Background(), models.KindFolder, []models.EntityPayload{
		{Folder: &models.Folder{ID: "f1", Name: "inbox", UpdatedAt: 100}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("Expected PUT, got %s", gotMethod)
	}
	if len(gotItems) != 1 || gotItems[0].Folder == nil || gotItems[0].Folder.Name != "inbox" {
		t.Errorf("Expected the folder batch, got %+v", gotItems)
	}
}

func TestHTTPClient_UpsertEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL, AccountID: "acct-1"})

	if err := client.Upsert(context.Background(), models.KindCard, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if called {
		t.Error("Expected no request for an empty batch")
	}
}

func TestFakeAuthority_VersionBump(t *testing.T) {
	fake := NewFakeAuthority()

	err := fake.Upsert(context.Background(), models.KindCard, []models.EntityPayload{
		{Card: &models.Card{ID: "c1", Front: "q", UpdatedAt: 100, SyncVersion: 1}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stored, ok := fake.Get(models.KindCard, "c1")
	if !ok {
		t.Fatal("Expected stored card")
	}
	if stored.Card.SyncVersion != 2 {
		t.Errorf("Expected authority to bump sync version to 2, got %d", stored.Card.SyncVersion)
	}

	items, err := fake.FetchChangedSince(context.Background(), models.KindCard, 50)
	if err != nil {
		t.Fatalf("FetchChangedSince failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 changed item, got %d", len(items))
	}
}
