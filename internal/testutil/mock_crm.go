// Package testutil provides testing utilities for the CRM extraction client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock CRM endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCRM is a configurable mock Bitrix-style REST server for testing.
// Methods are routed by path ("/<method>" below the webhook root).
type MockCRM struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	LastMethod   string
	LastBody     []byte
}

// NewMockCRM creates a new mock CRM server.
func NewMockCRM() *MockCRM {
	mock := &MockCRM{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
		}

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastMethod = r.URL.Path
		mock.LastBody = body
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL, usable as a webhook URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastMethod = ""
	m.LastBody = nil
}

// Requests returns the number of requests received.
func (m *MockCRM) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// SetHandler sets a custom handler for a method.
func (m *MockCRM) SetHandler(method string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers["/"+method] = handler
}

// SetResponse configures a fixed response for a method.
func (m *MockCRM) SetResponse(method string, resp MockResponse) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetResult configures a successful envelope: {"result": <resultJSON>}.
func (m *MockCRM) SetResult(method, resultJSON string) {
	m.SetResponse(method, MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"result": %s}`, resultJSON),
	})
}

// SetAPIError configures an explicit API rejection envelope.
func (m *MockCRM) SetAPIError(method, code, description string) {
	body, _ := json.Marshal(map[string]string{
		"error":             code,
		"error_description": description,
	})
	m.SetResponse(method, MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
	})
}

// defaultHandler answers unknown methods the way Bitrix does.
func (m *MockCRM) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"ERROR_METHOD_NOT_FOUND","error_description":"Method not found!"}`))
}
