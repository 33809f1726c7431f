package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	id          string
	shutdownErr error
	shutdown    bool
}

func (s *stubPlugin) Info() PluginInfo { return PluginInfo{ID: s.id} }
func (s *stubPlugin) RegisterRoutes(router chi.Router) {}
func (s *stubPlugin) GetFlowDefinitions() []FlowDefinition { return nil }
func (s *stubPlugin) Shutdown(ctx context.Context) error {
	s.shutdown = true
	return s.shutdownErr
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	openid := &stubPlugin{id: "openid2"}
	other := &stubPlugin{id: "alpha", shutdownErr: errors.New("busy")}

	require.NoError(t, r.Register(openid))
	require.NoError(t, r.Register(other))
	assert.ErrorContains(t, r.Register(&stubPlugin{id: "openid2"}), "already registered")
	assert.Error(t, r.Register(&stubPlugin{}))

	p, ok := r.Get("openid2")
	require.True(t, ok)
	assert.Same(t, openid, p)
	_, ok = r.Get("saml")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Info().ID)

	err := r.ShutdownAll(context.Background())
	assert.ErrorContains(t, err, "shutdown alpha")
	assert.True(t, openid.shutdown, "later plugins still shut down")
}
