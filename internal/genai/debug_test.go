package genai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Test the debug logging functionality
func TestDebugLogging(t *testing.T) {
	tempDir := t.TempDir()

	client := &OpenAIClient{
		chat:        &mockChatService{resp: completion("Test response", 5)},
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   100,
		debugMode:   true,
		stateDir:    tempDir,
	}

	if _, err := client.Complete(context.Background(), conversation); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	debugDir := filepath.Join(tempDir, "debug")
	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("No debug files were created")
	}

	content, err := os.ReadFile(filepath.Join(debugDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}

	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, exists := logEntry[field]; !exists {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}
	if logEntry["method"] != "Complete" {
		t.Errorf("Expected method 'Complete', got %v", logEntry["method"])
	}
	if logEntry["model"] != "test-model" {
		t.Errorf("Expected model 'test-model', got %v", logEntry["model"])
	}
}

// Test that debug logging is disabled when debug mode is false
func TestDebugLoggingDisabled(t *testing.T) {
	tempDir := t.TempDir()

	client := &OpenAIClient{
		chat:      &mockChatService{resp: completion("Test response", 5)},
		model:     "test-model",
		debugMode: false,
		stateDir:  tempDir,
	}

	if _, err := client.Complete(context.Background(), conversation); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "debug")); !os.IsNotExist(err) {
		t.Errorf("Debug directory should not be created when debug mode is disabled")
	}
}
