package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func testHandlers() *Handlers {
	return NewHandlers(nil, nil, nil, nil, zap.NewNop(), nil)
}

func TestHealthCheck(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Get("/healthz", h.HealthCheck)

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateJobMalformedBody(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Post("/api/jobs", h.CreateJob)

	req := httptest.NewRequest("POST", "/api/jobs", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestCreateJobInvalidType(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Post("/api/jobs", h.CreateJob)

	body, _ := json.Marshal(map[string]any{"type": "CARRIER_PIGEON", "payload": map[string]any{"to": "+1"}})
	req := httptest.NewRequest("POST", "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for invalid type, got %d", resp.StatusCode)
	}
}

// TestCreateJobEmptyPayload exercises S2 from the testable-properties
// scenarios: a non-object payload must be rejected before a job row is
// ever created, so this must fail validation without touching the store.
func TestCreateJobEmptyPayload(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Post("/api/jobs", h.CreateJob)

	body, _ := json.Marshal(map[string]any{"type": "EMAIL", "payload": []any{}})
	req := httptest.NewRequest("POST", "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for non-object payload, got %d", resp.StatusCode)
	}
}

func TestNextJobInvalidType(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Get("/api/jobs/next/:type", h.NextJob)

	req := httptest.NewRequest("GET", "/api/jobs/next/CARRIER_PIGEON", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for invalid type, got %d", resp.StatusCode)
	}
}

func TestScaleWorkersOutOfRangeCount(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Post("/api/workers/scale", h.ScaleWorkers)

	body, _ := json.Marshal(map[string]any{"type": "EMAIL", "count": -1})
	req := httptest.NewRequest("POST", "/api/workers/scale", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for negative count, got %d", resp.StatusCode)
	}
}

func TestScaleWorkersZeroCount(t *testing.T) {
	h := testHandlers()
	app := fiber.New()
	app.Post("/api/workers/scale", h.ScaleWorkers)

	body, _ := json.Marshal(map[string]any{"type": "EMAIL", "count": 0})
	req := httptest.NewRequest("POST", "/api/workers/scale", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for zero count, got %d", resp.StatusCode)
	}
}
