package serialmux

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates a request that passes tsweb's loopback check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_SendCommandAPI(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		form           url.Values
		expectedStatus int
		bodyContains   string
	}{
		{"valid", http.MethodPost, url.Values{"command": {"START"}}, http.StatusOK, "START"},
		{"empty", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"missing", http.MethodPost, url.Values{}, http.StatusBadRequest, "Missing command"},
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.bodyContains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.bodyContains)
			}
		})
	}
	if got := port.Written(); got != "START\n" {
		t.Errorf("port received %q", got)
	}
}

func TestAdminRoutes_SendCommandPage(t *testing.T) {
	mux := NewSerialMux(newPipePort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/debug/tail.js") {
		t.Error("page does not load tail.js")
	}

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/tail.js", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "EventSource") {
		t.Errorf("tail.js status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutes_TailStreamsLines(t *testing.T) {
	port := newPipePort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET tail: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	// wait for the ping so the handler has subscribed
	for got := range lines {
		if got == ": ping" {
			break
		}
	}
	port.emit(t, "E overheated\n")

	timeout := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-lines:
			if !ok {
				t.Fatal("stream ended")
			}
			if got == "data: E overheated" {
				return
			}
		case <-timeout:
			t.Fatal("line never reached the tail")
		}
	}
}

func TestAbbreviate(t *testing.T) {
	if got := abbreviate("short"); got != "short" {
		t.Errorf("abbreviate(short) = %q", got)
	}
	long := strings.Repeat("x", 500)
	if got := abbreviate(long); !strings.HasSuffix(got, "(500 bytes)") || len(got) > 200 {
		t.Errorf("abbreviate(long) = %q", got)
	}
}
