package cli

import "testing"

func TestLocalhostClientBaseURL(t *testing.T) {
	c := localhostClient()
	if c.baseURL != "http://127.0.0.1:3000" {
		t.Fatalf("baseURL = %q, want http://127.0.0.1:3000", c.baseURL)
	}
}

func TestApiURLGeneration(t *testing.T) {
	c := &apiClient{baseURL: "http://localhost:3000"}

	if got, want := c.apiURL("/guest"), "http://localhost:3000/api/guest"; got != want {
		t.Fatalf("apiURL(/guest) = %q, want %q", got, want)
	}
	if got, want := c.apiURL("/guest/worker-1"), "http://localhost:3000/api/guest/worker-1"; got != want {
		t.Fatalf("apiURL(/guest/worker-1) = %q, want %q", got, want)
	}
}
