package recordstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

type fakeOrg struct {
	id     string
	caPath string
}

func (o *fakeOrg) ID() string         { return o.id }
func (o *fakeOrg) CACertPath() string { return o.caPath }
func (o *fakeOrg) GetUser(userID string) (types.User, bool) { return nil, false }
func (o *fakeOrg) GetUsers() []types.User                   { return nil }
func (o *fakeOrg) NewUser(certType types.CertType, name string) (types.User, error) {
	return nil, nil
}
func (o *fakeOrg) RemoveUser(userID string) error { return nil }

type fakeOrgStore struct {
	orgs map[string]*fakeOrg
}

func newFakeOrgStore() *fakeOrgStore {
	return &fakeOrgStore{orgs: make(map[string]*fakeOrg)}
}

func (s *fakeOrgStore) add(id, caPath string) {
	s.orgs[id] = &fakeOrg{id: id, caPath: caPath}
}

func (s *fakeOrgStore) Organization(id string) (types.Organization, bool) {
	o, ok := s.orgs[id]
	return o, ok
}

type recordingBus struct {
	mu        sync.Mutex
	published []types.EventType
}

func (b *recordingBus) Publish(eventType types.EventType, resourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, eventType)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestCreateLoadRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	orgs := newFakeOrgStore()
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	rec := &types.ServerRecord{Name: "test-server", Network: "10.8.0.0/24"}
	require.NoError(t, store.Create(rec, 512))
	assert.NotEmpty(t, rec.ID, "expected Create to mint an id")

	loaded, err := store.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "test-server", loaded.Name)
	assert.Equal(t, "10.8.0.0/24", loaded.Network)
}

func TestCreateSkipsDHParamGenerationWhenPathAlreadyExists(t *testing.T) {
	dataDir := t.TempDir()
	orgs := newFakeOrgStore()
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	rec := &types.ServerRecord{ID: "fixed-id", Name: "test"}
	paths := store.Paths(rec.ID)
	require.NoError(t, os.MkdirAll(paths.DHParamPath, 0755))

	assert.NoError(t, store.Create(rec, 512))
}

func TestCommitAlwaysPublishesServersUpdated(t *testing.T) {
	dataDir := t.TempDir()
	orgs := newFakeOrgStore()
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	rec := &types.ServerRecord{ID: "srv1", Name: "test"}
	require.NoError(t, os.MkdirAll(store.Paths(rec.ID).ServerDir, 0755))

	require.NoError(t, store.Commit(rec))
	require.Equal(t, 1, bus.count())
	assert.Equal(t, types.EventServersUpdated, bus.published[0])
}

func TestListSkipsUnreadableRecords(t *testing.T) {
	dataDir := t.TempDir()
	orgs := newFakeOrgStore()
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	good := &types.ServerRecord{Name: "good"}
	require.NoError(t, store.Create(good, 512))

	// A directory with no server.conf inside simulates an unreadable record.
	badDir := filepath.Join(dataDir, types.ServersDirName, "broken")
	require.NoError(t, os.MkdirAll(badDir, 0755))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1, "expected the bad record to be skipped")
	assert.Equal(t, good.ID, records[0].ID)
}

func TestListOnMissingDirReturnsEmpty(t *testing.T) {
	dataDir := t.TempDir()
	store := New(dataDir, newFakeOrgStore(), &recordingBus{})

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOrganizationsDetachesMissingCA(t *testing.T) {
	dataDir := t.TempDir()
	orgs := newFakeOrgStore()
	orgs.add("org1", filepath.Join(dataDir, "nonexistent-ca.pem"))
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	rec := &types.ServerRecord{Name: "test", Organizations: []string{"org1"}}
	require.NoError(t, store.Create(rec, 512))

	resolved := store.Organizations(rec)
	assert.Empty(t, resolved, "expected org with missing CA cert to be filtered out")
	assert.Empty(t, rec.Organizations, "expected org to be detached from the record")
}

func TestAttachOrgIsIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	caPath := filepath.Join(dataDir, "ca.pem")
	require.NoError(t, os.WriteFile(caPath, []byte("CA"), 0644))
	orgs := newFakeOrgStore()
	orgs.add("org1", caPath)
	bus := &recordingBus{}
	store := New(dataDir, orgs, bus)

	rec := &types.ServerRecord{Name: "test"}
	require.NoError(t, store.Create(rec, 512))

	_, err := store.AttachOrg(rec, "org1")
	require.NoError(t, err)
	_, err = store.AttachOrg(rec, "org1")
	require.NoError(t, err, "second AttachOrg")
	assert.Len(t, rec.Organizations, 1, "expected exactly one organization attached")
}

func TestDetachOrgUnknownIsNoOp(t *testing.T) {
	dataDir := t.TempDir()
	store := New(dataDir, newFakeOrgStore(), &recordingBus{})

	rec := &types.ServerRecord{Name: "test"}
	require.NoError(t, store.Create(rec, 512))

	assert.NoError(t, store.DetachOrg(rec, "never-attached"))
}
