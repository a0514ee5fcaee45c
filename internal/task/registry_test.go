package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/domain"
)

func noopHandler(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	require.NoError(t, registry.Register("noop", noopHandler))
	assert.True(t, registry.Registered("noop"))
	assert.False(t, registry.Registered("other"))
}

func TestRegistry_RegisterEmptyName(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	assert.ErrorIs(t, registry.Register("", noopHandler), ErrHandlerNameEmpty)
}

func TestRegistry_RegisterNilHandler(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	assert.ErrorIs(t, registry.Register("noop", nil), ErrHandlerNil)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register("noop", noopHandler))

	err := registry.Register("noop", noopHandler)
	assert.ErrorIs(t, err, ErrHandlerAlreadyRegistered)
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register("echo", func(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
		return json.RawMessage(`"hello"`), nil
	}))

	handler, err := registry.Resolve("echo")
	require.NoError(t, err)

	result, err := handler(context.Background(), domain.Payload{})
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(result))
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_, err := registry.Resolve("ghost")
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register("a", noopHandler))
	require.NoError(t, registry.Register("b", noopHandler))

	assert.ElementsMatch(t, []string{"a", "b"}, registry.Names())
}
