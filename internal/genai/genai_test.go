package genai

import "testing"

func TestNewClientWithAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c, err := NewClient(WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("NewClient with explicit key failed: %v", err)
	}
	if !c.IsAvailable() {
		t.Error("client with a key should report available")
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	if _, err := NewClient(); err != nil {
		t.Fatalf("NewClient with env key failed: %v", err)
	}
}

func TestNewClientNoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("NewClient without a key should fail")
	}
}
