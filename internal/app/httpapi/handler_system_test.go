package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/carbonledger/platform/internal/app"
	core "github.com/carbonledger/platform/internal/app/core/service"
)

func TestSystemDescriptorsReflectRegisteredServices(t *testing.T) {
	application, err := app.New(app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	handler := NewHandler(application, nil, newAuditLog(10, nil))

	req := httptest.NewRequest(http.MethodGet, "/system/descriptors", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var descriptors []core.Descriptor
	if err := json.Unmarshal(resp.Body.Bytes(), &descriptors); err != nil {
		t.Fatalf("unmarshal descriptors: %v", err)
	}
	if len(descriptors) == 0 {
		t.Fatalf("expected at least one registered service descriptor")
	}
}

func TestSystemDescriptorsHTML(t *testing.T) {
	application, err := app.New(app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application, nil, newAuditLog(10, nil))

	req := httptest.NewRequest(http.MethodGet, "/system/descriptors.html", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected a content type on the rendered page")
	}
}
