package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderkit/ladder/blocks"
	"github.com/ladderkit/ladder/sim"
)

func startMonitored(t *testing.T) (*sim.Circuit, *Monitor, chan error) {
	t.Helper()

	c := sim.NewCircuit(sim.WithCircuitName("plant"))
	blocks.NewCounter(c, "cnt")
	blocks.NewToggle(c, "valve")

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background()) }()

	require.NoError(t, c.WaitInit(context.Background()))

	m := NewMonitor()
	m.RegisterCircuit(c)
	require.NoError(t, m.StartServer())

	t.Cleanup(func() { _ = m.StopServer() })

	return c, m, runErr
}

func get(t *testing.T, m *Monitor, path string) *http.Response {
	t.Helper()

	rsp, err := http.Get(
		fmt.Sprintf("http://localhost:%d%s", m.Port(), path))
	require.NoError(t, err)

	return rsp
}

func TestCircuitStateEndpoint(t *testing.T) {
	c, m, runErr := startMonitored(t)

	rsp := get(t, m, "/api/state")
	defer rsp.Body.Close()

	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var state struct {
		Circuit string `json:"circuit"`
		State   string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&state))
	assert.Equal(t, "plant", state.Circuit)
	assert.Equal(t, "running", state.State)

	require.NoError(t, c.Shutdown())
	assert.NoError(t, <-runErr)
}

func TestListBlocksEndpoint(t *testing.T) {
	c, m, runErr := startMonitored(t)

	rsp := get(t, m, "/api/blocks")
	defer rsp.Body.Close()

	var listed []struct {
		Name    string `json:"name"`
		Defined bool   `json:"defined"`
	}
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&listed))

	names := make(map[string]bool)
	for _, b := range listed {
		names[b.Name] = b.Defined
	}

	assert.Equal(t, map[string]bool{"cnt": true, "valve": true}, names)

	require.NoError(t, c.Shutdown())
	assert.NoError(t, <-runErr)
}

func TestBlockDetailsEndpoint(t *testing.T) {
	c, m, runErr := startMonitored(t)

	rsp := get(t, m, "/api/block/cnt")
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	missing := get(t, m, "/api/block/nonsense")
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	require.NoError(t, c.Shutdown())
	assert.NoError(t, <-runErr)
}

func TestShutdownEndpoint(t *testing.T) {
	c, m, runErr := startMonitored(t)

	rsp := get(t, m, "/api/shutdown")
	rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("circuit did not shut down")
	}

	assert.Equal(t, sim.CircuitTerminated, c.State())
}
