package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/storage/memory"
)

// ExampleProgressHandler_ListSessions shows how to serve the session report.
func ExampleProgressHandler_ListSessions() {
	repo := memory.NewProgressStore()
	id := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	if err := repo.OpenSession(context.Background(), id, "volunteer", "ada", time.Unix(0, 0)); err != nil {
		panic(err)
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/sessions?form_id=volunteer&limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	var payload struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned sessions: %d (%s)\n", len(payload.Sessions), payload.Sessions[0]["status"])
	// Output:
	// returned sessions: 1 (open)
}
