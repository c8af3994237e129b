package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-planner.json", `{"title":"test plan"}`)
	writeFixture(t, dir, "mock-writer.md", "## Section draft\n")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	// Numbered fixtures for the reviewer (flag on cycle one, pass on two),
	// plus a base fallback for calls past the sequence.
	writeFixture(t, dir, "mock-reviewer.1.json", `{"findings":[{"section_id":"S2","severity":"major"}]}`)
	writeFixture(t, dir, "mock-reviewer.2.json", `{"findings":[],"note":"clean"}`)
	writeFixture(t, dir, "mock-reviewer.json", `{"findings":[],"note":"fallback"}`)

	writeFixture(t, dir, "mock-planner.json", `{"title":"test"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-reviewer"]
	if len(seq) != 3 {
		t.Fatalf("mock-reviewer: expected 3 fixtures, got %d", len(seq))
	}
	if !strings.Contains(seq[0], "major") {
		t.Errorf("fixture[0] should flag a section, got: %s", seq[0])
	}
	if !strings.Contains(seq[1], "clean") {
		t.Errorf("fixture[1] should be clean, got: %s", seq[1])
	}
	if !strings.Contains(seq[2], "fallback") {
		t.Errorf("fixture[2] should be the base fallback, got: %s", seq[2])
	}

	if len(fixtures["mock-planner"]) != 1 {
		t.Fatalf("mock-planner: expected 1 fixture, got %d", len(fixtures["mock-planner"]))
	}
}

func TestLoadFixtures_NumberedOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-reviewer.1.json", `{"findings":[{"section_id":"S1"}]}`)
	writeFixture(t, dir, "mock-reviewer.2.json", `{"findings":[]}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(fixtures["mock-reviewer"]) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(fixtures["mock-reviewer"]))
	}
}

func TestLoadFixtures_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-planner.json", `{"title":"test"}`)
	writeFixture(t, dir, "README.txt", "not a fixture")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(fixtures) != 1 {
		t.Fatalf("expected 1 model, got %d", len(fixtures))
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	if _, err := loadFixtures(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	fixtures := map[string][]string{
		"mock-reviewer": {
			`{"findings":[{"section_id":"S2"}]}`,
			`{"findings":[]}`,
		},
		"mock-planner": {
			`{"title":"test plan"}`,
		},
	}

	s := newServer(fixtures)

	resp1 := doCompletion(t, s, "mock-reviewer")
	if !strings.Contains(resp1, "S2") {
		t.Errorf("call 1: expected flagged section, got: %s", resp1)
	}
	resp2 := doCompletion(t, s, "mock-reviewer")
	if strings.Contains(resp2, "S2") {
		t.Errorf("call 2: expected clean report, got: %s", resp2)
	}
	// Beyond the sequence the last fixture repeats.
	resp3 := doCompletion(t, s, "mock-reviewer")
	if resp3 != resp2 {
		t.Errorf("call 3: expected repeat of last fixture, got: %s", resp3)
	}

	planResp := doCompletion(t, s, "mock-planner")
	if !strings.Contains(planResp, "test plan") {
		t.Errorf("planner: expected test plan, got: %s", planResp)
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]string{
		"planner": {`{"title":"test"}`},
	}
	s := newServer(fixtures)

	resp := doCompletion(t, s, "mock-planner")
	if !strings.Contains(resp, "test") {
		t.Errorf("expected mock- prefix stripping to resolve, got: %s", resp)
	}
}

func TestUnknownModelIs404(t *testing.T) {
	s := newServer(map[string][]string{"mock-planner": {`{}`}})

	body := strings.NewReader(`{"model":"mock-verifier","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newServer(map[string][]string{"mock-planner": {`{}`}})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-reviewer": {`{"findings":[]}`},
		"mock-planner":  {`{"title":"test"}`},
	}
	s := newServer(fixtures)

	doCompletion(t, s, "mock-reviewer")
	doCompletion(t, s, "mock-reviewer")
	doCompletion(t, s, "mock-planner")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls int64          `json:"total_calls"`
		PerModel   map[string]int `json:"per_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.PerModel["mock-reviewer"] != 2 {
		t.Errorf("mock-reviewer calls: expected 2, got %d", stats.PerModel["mock-reviewer"])
	}
	if stats.PerModel["mock-planner"] != 1 {
		t.Errorf("mock-planner calls: expected 1, got %d", stats.PerModel["mock-planner"])
	}
}

func TestNumberedFixtureRegex(t *testing.T) {
	tests := []struct {
		base     string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-reviewer.1", "mock-reviewer", "1", true},
		{"mock-reviewer.2", "mock-reviewer", "2", true},
		{"mock-reviewer.10", "mock-reviewer", "10", true},
		{"mock-reviewer", "", "", false},
		{"mock-writer", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFixture.FindStringSubmatch(tt.base)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.base)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.base, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.base, matches[2], tt.wantNum)
			}
		} else if matches != nil {
			t.Errorf("%s: expected no match, got %v", tt.base, matches)
		}
	}
}

func TestResponseShape(t *testing.T) {
	s := newServer(map[string][]string{"mock-writer": {"## Draft body\n"}})

	body := strings.NewReader(`{"model":"mock-writer","messages":[{"role":"user","content":"write"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body: %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object: expected chat.completion, got %q", resp.Object)
	}
	if resp.Model != "mock-writer" {
		t.Errorf("model: expected mock-writer, got %q", resp.Model)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason: expected stop, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("role: expected assistant, got %q", resp.Choices[0].Message.Role)
	}
	if resp.Usage.TotalTokens == 0 {
		t.Error("usage should estimate nonzero tokens")
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()
	body := strings.NewReader(`{"model":"` + model + `","messages":[{"role":"user","content":"test"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		t.Fatalf("no choices in response")
	}
	return resp.Choices[0].Message.Content
}
