package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cqi/internal/schema"
)

func TestRegister(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register("DropTables", func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.Error(t, r.Register(schema.ToolQueryFile, nil))

	require.NoError(t, r.Register(schema.ToolQueryFile, func(context.Context, json.RawMessage) (any, error) { return "ok", nil }))
	require.NoError(t, r.Register(schema.ToolAnalyzeFile, func(context.Context, json.RawMessage) (any, error) { return "ok", nil }))
	assert.True(t, r.Has(schema.ToolQueryFile))
	assert.False(t, r.Has(schema.ToolQueryCodebase))
	assert.Equal(t, []schema.ToolName{schema.ToolAnalyzeFile, schema.ToolQueryFile}, r.Names())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(schema.ToolAnalyzeFile, func(_ context.Context, args json.RawMessage) (any, error) {
		return map[string]any{"echo": string(args)}, nil
	}))
	require.NoError(t, r.Register(schema.ToolQueryFile, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	}))
	require.NoError(t, r.Register(schema.ToolAnalyzeFilesBatch, func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	}))

	t.Run("success", func(t *testing.T) {
		res := r.Dispatch(ctx, Call{ID: "c1", Name: "AnalyzeFile", Args: json.RawMessage(`{"file_path":"a.py"}`)})
		assert.False(t, res.IsError)
		assert.Equal(t, "c1", res.CallID)
		assert.Contains(t, res.Content, "a.py")
	})

	t.Run("missing args default to empty object", func(t *testing.T) {
		res := r.Dispatch(ctx, Call{ID: "c2", Name: "AnalyzeFile"})
		assert.False(t, res.IsError)
		assert.Contains(t, res.Content, "{}")
	})

	t.Run("handler error", func(t *testing.T) {
		res := r.Dispatch(ctx, Call{ID: "c3", Name: "QueryFile"})
		assert.True(t, res.IsError)
		assert.Equal(t, "Error: disk on fire", res.Content)
	})

	t.Run("handler panic", func(t *testing.T) {
		res := r.Dispatch(ctx, Call{ID: "c4", Name: "AnalyzeFilesBatch"})
		assert.True(t, res.IsError)
		assert.Equal(t, "c4", res.CallID)
		assert.Contains(t, res.Content, "boom")
	})

	t.Run("missing handler", func(t *testing.T) {
		res := r.Dispatch(ctx, Call{ID: "c5", Name: "QueryCodebase"})
		assert.True(t, res.IsError)
		assert.ErrorIs(t, res.Err, ErrMissingHandler)
		assert.Equal(t, "c5", res.CallID)
	})
}

func TestTyped(t *testing.T) {
	var got schema.AnalyzeFileArgs
	h := Typed(func(_ context.Context, args schema.AnalyzeFileArgs) (any, error) {
		got = args
		return "done", nil
	})

	out, err := h(context.Background(), json.RawMessage(`{"file_path":" main.go "}`))
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "main.go", got.FilePath)
	assert.Equal(t, schema.DefaultFocus, got.AnalysisFocus)

	_, err = h(context.Background(), json.RawMessage(`{"file_path": 7}`))
	assert.ErrorContains(t, err, "invalid arguments")
}

func TestRender(t *testing.T) {
	assert.Equal(t, "", Render(nil))
	assert.Equal(t, "plain", Render("plain"))
	assert.JSONEq(t, `{"a":1}`, Render(map[string]int{"a": 1}))
}
