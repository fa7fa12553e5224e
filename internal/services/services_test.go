package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		var job sandbox.Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		_ = json.NewEncoder(w).Encode(sandbox.Result{Passed: true, TestsRun: len(job.AssetIDs), TestsPassed: len(job.AssetIDs)})
	}))
	defer srv.Close()

	sb := &HTTPSandbox{Client: NewClient(srv.URL, "s3cret", 0, nil)}
	res, err := sb.Run(context.Background(), sandbox.Job{ExecutionID: "e1", AssetIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.TestsRun)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad stage", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := &HTTPDeployer{Client: NewClient(srv.URL, "", 0, nil)}
	exec := &model.Execution{Key: "e1"}
	_, err := d.ApplyStage(context.Background(), exec, model.NewDeploymentStage(1, "canary-5%", 5, []string{"a"}))

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusUnprocessableEntity, serr.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSignalsNotFoundMapsToStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/vulnerabilities/CVE-2024-0001" {
			_ = json.NewEncoder(w).Encode(model.VulnerabilitySignal{CVSSVector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, nil)
	sig := &HTTPSignals{Intel: c, Inventory: c}

	v, err := sig.VulnerabilitySignal(context.Background(), "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-0001", v.ID)

	_, err = sig.AssetProfile(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSimulatedSnapshotsVerifyOnlyCaptured(t *testing.T) {
	s := &SimulatedSnapshots{}
	snap := &model.Snapshot{Key: "s1", ExecutionID: "e1", AssetIDs: []string{"a"}, Type: model.SnapshotVM}

	ok, err := s.Verify(context.Background(), snap)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.Capture(context.Background(), snap)
	require.NoError(t, err)
	assert.Len(t, c.Checksum, 64)
	ok, _ = s.Verify(context.Background(), snap)
	assert.True(t, ok)
}

func TestSimulatedSandboxConsumesQueuedErrors(t *testing.T) {
	s := NewSimulatedSandbox()
	s.Errs = []error{ErrSimulatedOutage}

	_, err := s.Run(context.Background(), sandbox.Job{})
	assert.ErrorIs(t, err, ErrSimulatedOutage)
	res, err := s.Run(context.Background(), sandbox.Job{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, s.Runs())
}

func TestLoadStaticSignals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"vulnerabilities": [{"id": "CVE-2024-9", "cvss_vector": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "known_exploited": true}],
		"assets": [{"id": "web-01", "environment": "production", "snapshot_supported": true}]
	}`), 0o600))

	s, err := LoadStaticSignals(path)
	require.NoError(t, err)
	v, err := s.VulnerabilitySignal(context.Background(), "CVE-2024-9")
	require.NoError(t, err)
	assert.True(t, v.KnownExploited)
	a, err := s.AssetProfile(context.Background(), "web-01")
	require.NoError(t, err)
	assert.True(t, a.SnapshotSupported)

	_, err = s.AssetProfile(context.Background(), "db-01")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"assets": [{"name": "anonymous"}]}`), 0o600))
	_, err = LoadStaticSignals(bad)
	assert.Error(t, err)
}
