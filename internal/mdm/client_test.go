package mdm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func newMockClient(fn func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error)) *Client {
	return &Client{
		baseURL:           "https://mdm.example.com",
		clientID:          "id",
		clientSecret:      "secret",
		httpClient:        &http.Client{},
		doJSONRequestFunc: fn,
	}
}

func envelope(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"code": 0, "msg": "ok", "data": data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestResolveCategory(t *testing.T) {
	var gotPath string
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		gotPath = path
		if method != http.MethodGet {
			t.Fatalf("unexpected method %s", method)
		}
		return nil, envelope(t, map[string]any{
			"items": []Category{
				{ID: "", DisplayName: "Finance"},
				{ID: "cat-9", DisplayName: "Finance"},
			},
		}), nil
	})

	id, err := client.ResolveCategory(context.Background(), " Finance ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cat-9" {
		t.Fatalf("expected cat-9, got %s", id)
	}
	if gotPath != "/api/v2/categories?name=Finance" {
		t.Fatalf("unexpected path %s", gotPath)
	}
}

func TestResolveCategoryNotFound(t *testing.T) {
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		return nil, envelope(t, map[string]any{"items": []Category{}}), nil
	})
	_, err := client.ResolveCategory(context.Background(), "Ghost")
	if !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestSearchCategoriesRejectsEmptyName(t *testing.T) {
	client := newMockClient(nil)
	if _, err := client.SearchCategories(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestSearchCategoriesAPIError(t *testing.T) {
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		return nil, []byte(`{"code":1002,"msg":"forbidden"}`), nil
	})
	if _, err := client.SearchCategories(context.Background(), "Finance"); err == nil {
		t.Fatal("expected error for non-zero envelope code")
	}
}

func TestGetDevice(t *testing.T) {
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		if path != "/api/v2/devices/d1" {
			t.Fatalf("unexpected path %s", path)
		}
		return nil, envelope(t, Device{ID: "d1", Name: "Laptop1", CategoryID: "cat-9", CategoryDisplayName: "Finance"}), nil
	})
	device, err := client.GetDevice(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device.CategoryDisplayName != "Finance" || device.CategoryID != "cat-9" {
		t.Fatalf("unexpected device: %+v", device)
	}
}

func TestUpdateDeviceCategory(t *testing.T) {
	var gotPayload any
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		if method != http.MethodPut {
			t.Fatalf("unexpected method %s", method)
		}
		if path != "/api/v2/devices/d1/category" {
			t.Fatalf("unexpected path %s", path)
		}
		gotPayload = payload
		return nil, []byte("  \n"), nil
	})
	body, err := client.UpdateDeviceCategory(context.Background(), "d1", "cat-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "" {
		t.Fatalf("expected empty acknowledgment, got %q", body)
	}
	payload, ok := gotPayload.(map[string]string)
	if !ok || payload["categoryId"] != "cat-9" {
		t.Fatalf("unexpected payload: %#v", gotPayload)
	}
}

func TestUpdateDeviceCategoryReturnsBodyVerbatim(t *testing.T) {
	client := newMockClient(func(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
		return nil, []byte(`{"warning":"stale cache"} `), nil
	})
	body, err := client.UpdateDeviceCategory(context.Background(), "d1", "cat-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"warning":"stale cache"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestUpdateDeviceCategoryValidatesArgs(t *testing.T) {
	client := newMockClient(nil)
	if _, err := client.UpdateDeviceCategory(context.Background(), "", "cat-9"); err == nil {
		t.Fatal("expected error for empty device id")
	}
	if _, err := client.UpdateDeviceCategory(context.Background(), "d1", " "); err == nil {
		t.Fatal("expected error for empty category id")
	}
}

func TestAccessTokenCachedAcrossRequests(t *testing.T) {
	var tokenRequests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			atomic.AddInt64(&tokenRequests, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
		case "/api/v2/devices/d1":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"d1","categoryDisplayName":"Finance"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := &Client{
		baseURL:      server.URL,
		clientID:     "id",
		clientSecret: "secret",
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	for i := 0; i < 3; i++ {
		device, err := client.GetDevice(context.Background(), "d1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if device.CategoryDisplayName != "Finance" {
			t.Fatalf("unexpected device: %+v", device)
		}
	}
	if got := atomic.LoadInt64(&tokenRequests); got != 1 {
		t.Fatalf("expected one token request, got %d", got)
	}
}

func TestAccessTokenErrorSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := &Client{
		baseURL:      server.URL,
		clientID:     "id",
		clientSecret: "bad",
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	if _, err := client.GetDevice(context.Background(), "d1"); err == nil {
		t.Fatal("expected token error to propagate")
	}
}
