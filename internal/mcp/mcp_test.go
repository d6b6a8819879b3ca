package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/presence"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func statusRequest(args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "cramsino_status",
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestStatusToolReturnsRecord(t *testing.T) {
	store := presence.NewMemoryStore()
	_, err := store.Put(context.Background(), "desk-1", json.RawMessage(`{"face_present":true,"talking":true}`))
	require.NoError(t, err)

	srv := New(store, testLogger(), "test")
	result, err := srv.handleStatus(context.Background(), statusRequest(map[string]any{"client_id": "desk-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var rec model.StatusRecord
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &rec))
	assert.Equal(t, "desk-1", rec.ClientID)
	assert.True(t, rec.Flags().Talking)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStatusToolErrors(t *testing.T) {
	srv := New(presence.NewMemoryStore(), testLogger(), "test")

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing client_id", map[string]any{}, "client_id is required"},
		{"blank client_id", map[string]any{"client_id": "  "}, "client_id is required"},
		{"unknown client_id", map[string]any{"client_id": "ghost"}, "no status for client_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleStatus(context.Background(), statusRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Equal(t, tt.want, parseToolText(t, result))
		})
	}
}
