package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/directquery/pkg/datasource"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog", "directquery.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func ds(name, uri string) datasource.Metadata {
	return datasource.Metadata{
		Name:       name,
		Connector:  "prometheus",
		Properties: map[string]string{"prometheus.uri": uri},
	}
}

func TestStore_PutGet(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ds("ds1", "http://prometheus:9090")))

	md, err := s.Get(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(t, datasource.Prometheus, md.Connector)
	assert.Equal(t, "http://prometheus:9090", md.Properties["prometheus.uri"])
	assert.True(t, s.Exists(ctx, "ds1"))

	md.Properties["prometheus.uri"] = "mutated"
	again, err := s.Get(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(t, "http://prometheus:9090", again.Properties["prometheus.uri"])
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := openStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, datasource.ErrNotFound)
	assert.False(t, s.Exists(context.Background(), "missing"))
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	s, _ := openStore(t)

	assert.ErrorIs(t, s.Put(datasource.Metadata{Connector: datasource.Prometheus}), datasource.ErrConfiguration)
	assert.ErrorIs(t, s.Put(datasource.Metadata{Name: "ds1"}), datasource.ErrConfiguration)
}

func TestStore_ListOrdered(t *testing.T) {
	s, _ := openStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Put(ds(name, "http://"+name)))
	}

	var names []string
	for _, md := range s.List() {
		names = append(names, md.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestStore_Delete(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Put(ds("ds1", "http://a")))

	require.NoError(t, s.Delete("ds1"))
	assert.False(t, s.Exists(context.Background(), "ds1"))
	assert.ErrorIs(t, s.Delete("ds1"), datasource.ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directquery.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ds("ds1", "http://a")))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	md, err := reopened.Get(context.Background(), "ds1")
	require.NoError(t, err)
	assert.Equal(t, "http://a", md.Properties["prometheus.uri"])
}

func TestStore_Replace(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Put(ds("old", "http://old")))

	require.NoError(t, s.Replace([]datasource.Metadata{ds("a", "http://a"), ds("b", "http://b")}))

	assert.False(t, s.Exists(context.Background(), "old"))
	assert.Len(t, s.List(), 2)

	err := s.Replace([]datasource.Metadata{ds("a", "http://a"), ds("a", "http://a2")})
	assert.ErrorIs(t, err, datasource.ErrConfiguration)
	assert.Len(t, s.List(), 2, "failed replace keeps the previous catalog")
}

const catalogYAML = `datasources:
  - name: ds1
    connector: prometheus
    description: main prometheus
    properties:
      prometheus.uri: http://prometheus:9090
      prometheus.auth.type: basicauth
  - name: amp
    connector: PROMETHEUS
    properties:
      prometheus.uri: https://aps-workspaces.us-east-1.amazonaws.com/workspaces/ws-1
      prometheus.auth.type: awssigv4auth
      prometheus.auth.region: us-east-1
`

func TestLoadFileAndSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	mds, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, mds, 2)
	assert.Equal(t, "main prometheus", mds[0].Description)

	s, _ := openStore(t)
	require.NoError(t, s.Sync(path))

	md, err := s.Get(context.Background(), "amp")
	require.NoError(t, err)
	assert.Equal(t, datasource.Prometheus, md.Connector)
	assert.Equal(t, "us-east-1", md.Properties["prometheus.auth.region"])
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources: [:::"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources: []\n"), 0o600))

	s, _ := openStore(t)
	require.NoError(t, s.Sync(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	assert.Eventually(t, func() bool {
		return s.Exists(context.Background(), "ds1")
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatch_ReloadsOnAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources: []\n"), 0o600))

	s, _ := openStore(t)
	require.NoError(t, s.Sync(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx, path) }()

	time.Sleep(100 * time.Millisecond)

	save := func(content string) {
		tmp := filepath.Join(dir, "catalog.yaml.tmp")
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
		require.NoError(t, os.Rename(tmp, path))
	}

	save(catalogYAML)
	assert.Eventually(t, func() bool {
		return s.Exists(context.Background(), "amp")
	}, 3*time.Second, 20*time.Millisecond)

	// A second save proves the watch survived the first rename.
	save("datasources:\n  - name: solo\n    connector: prometheus\n")
	assert.Eventually(t, func() bool {
		return s.Exists(context.Background(), "solo") && !s.Exists(context.Background(), "amp")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	s, _ := openStore(t)
	require.NoError(t, s.Sync(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx, path) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("datasources: []\n"), 0o600))

	assert.Never(t, func() bool {
		return !s.Exists(context.Background(), "ds1")
	}, 300*time.Millisecond, 20*time.Millisecond)
}
