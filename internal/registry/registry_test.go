package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// fakeTargetRepository is an in-memory stand-in for repositories.TargetRepository,
// just enough to exercise Service.UpdateTarget/DeleteTarget without a real
// database.
type fakeTargetRepository struct {
	targets map[string]*db.Target
	// updateCalls records every fields map passed to UpdatePartial, so tests
	// can assert an empty patch reaches storage as a literal empty map.
	updateCalls []map[string]any
}

func newFakeTargetRepository(targets ...*db.Target) *fakeTargetRepository {
	r := &fakeTargetRepository{targets: make(map[string]*db.Target)}
	for _, t := range targets {
		r.targets[t.Name] = t
	}
	return r
}

func (r *fakeTargetRepository) Create(ctx context.Context, target *db.Target) error {
	r.targets[target.Name] = target
	return nil
}

func (r *fakeTargetRepository) GetByName(ctx context.Context, name string) (*db.Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, notFoundErr{}
	}
	return t, nil
}

func (r *fakeTargetRepository) UpdatePartial(ctx context.Context, name string, fields map[string]any) error {
	r.updateCalls = append(r.updateCalls, fields)
	if _, ok := r.targets[name]; !ok {
		return notFoundErr{}
	}
	return nil
}

func (r *fakeTargetRepository) Delete(ctx context.Context, name string) error {
	if _, ok := r.targets[name]; !ok {
		return notFoundErr{}
	}
	delete(r.targets, name)
	return nil
}

func (r *fakeTargetRepository) List(ctx context.Context) ([]db.Target, error) {
	out := make([]db.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, *t)
	}
	return out, nil
}

func (r *fakeTargetRepository) CountByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error) {
	return 0, nil
}

// notFoundErr mimics repository.ErrNotFound's error message, since
// isNotFound compares by string rather than by identity (see isNotFound's
// doc comment in registry.go).
type notFoundErr struct{}

func (notFoundErr) Error() string { return "record not found" }

// fakeSSHKeyRepository is a minimal stand-in for repositories.SSHKeyRepository
// used only where UpdateTarget needs to validate an ssh_key_id reference.
type fakeSSHKeyRepository struct {
	keys map[uuid.UUID]*db.SSHKey
}

func (r *fakeSSHKeyRepository) Create(ctx context.Context, key *db.SSHKey) error { return nil }
func (r *fakeSSHKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.SSHKey, error) {
	k, ok := r.keys[id]
	if !ok {
		return nil, notFoundErr{}
	}
	return k, nil
}
func (r *fakeSSHKeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*db.SSHKey, error) {
	return nil, notFoundErr{}
}
func (r *fakeSSHKeyRepository) Update(ctx context.Context, key *db.SSHKey) error { return nil }
func (r *fakeSSHKeyRepository) Delete(ctx context.Context, id uuid.UUID) error   { return nil }
func (r *fakeSSHKeyRepository) List(ctx context.Context) ([]db.SSHKey, error)    { return nil, nil }

// fakeCascade records DeleteTargetData/ClosePool calls for assertions.
type fakeCascade struct {
	deletedNames []string
	closedHosts  []string
	deleteErr    error
}

func (c *fakeCascade) DeleteTargetData(ctx context.Context, name string) error {
	c.deletedNames = append(c.deletedNames, name)
	return c.deleteErr
}

func (c *fakeCascade) ClosePool(host string) {
	c.closedHosts = append(c.closedHosts, host)
}

func newTestService(targetRepo *fakeTargetRepository, keyRepo *fakeSSHKeyRepository, cascade Cascade) *Service {
	if keyRepo == nil {
		keyRepo = &fakeSSHKeyRepository{keys: map[uuid.UUID]*db.SSHKey{}}
	}
	return NewService(targetRepo, keyRepo, cascade, zap.NewNop())
}

func TestUpdateTargetEmptyPatchIsNoOp(t *testing.T) {
	repo := newFakeTargetRepository(&db.Target{Name: "db1", Host: "10.0.0.1", PgPort: 5432})
	s := newTestService(repo, nil, nil)

	if err := s.UpdateTarget(context.Background(), "db1", TargetPatch{}); err != nil {
		t.Fatalf("UpdateTarget() with empty patch error = %v", err)
	}

	if len(repo.updateCalls) != 1 {
		t.Fatalf("UpdatePartial called %d times, want 1", len(repo.updateCalls))
	}
	if len(repo.updateCalls[0]) != 0 {
		t.Errorf("UpdatePartial fields = %v, want empty map for a zero-value patch", repo.updateCalls[0])
	}
}

func TestUpdateTargetPartialFieldsOnlyIncludesSet(t *testing.T) {
	repo := newFakeTargetRepository(&db.Target{Name: "db1", Host: "10.0.0.1", PgPort: 5432})
	s := newTestService(repo, nil, nil)

	newHost := "10.0.0.2"
	patch := TargetPatch{Host: &newHost}
	if err := s.UpdateTarget(context.Background(), "db1", patch); err != nil {
		t.Fatalf("UpdateTarget() error = %v", err)
	}

	fields := repo.updateCalls[0]
	if len(fields) != 1 {
		t.Fatalf("UpdatePartial fields = %v, want exactly 1 entry", fields)
	}
	if fields["host"] != newHost {
		t.Errorf("fields[\"host\"] = %v, want %q", fields["host"], newHost)
	}
}

func TestUpdateTargetRejectsUnknownTarget(t *testing.T) {
	repo := newFakeTargetRepository()
	s := newTestService(repo, nil, nil)

	err := s.UpdateTarget(context.Background(), "ghost", TargetPatch{})
	if err != ErrNotFound {
		t.Errorf("UpdateTarget() on missing target error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTargetCascades(t *testing.T) {
	repo := newFakeTargetRepository(&db.Target{Name: "db1", Host: "10.0.0.1", PgPort: 5432})
	cascade := &fakeCascade{}
	s := newTestService(repo, nil, cascade)

	if err := s.DeleteTarget(context.Background(), "db1"); err != nil {
		t.Fatalf("DeleteTarget() error = %v", err)
	}

	if _, ok := repo.targets["db1"]; ok {
		t.Error("DeleteTarget() left the row in place")
	}
	if len(cascade.deletedNames) != 1 || cascade.deletedNames[0] != "db1" {
		t.Errorf("cascade.DeleteTargetData called with %v, want [\"db1\"]", cascade.deletedNames)
	}
	if len(cascade.closedHosts) != 1 || cascade.closedHosts[0] != "10.0.0.1" {
		t.Errorf("cascade.ClosePool called with %v, want [\"10.0.0.1\"]", cascade.closedHosts)
	}
}

func TestDeleteTargetRowGoneEvenIfCascadeFails(t *testing.T) {
	repo := newFakeTargetRepository(&db.Target{Name: "db1", Host: "10.0.0.1", PgPort: 5432})
	cascade := &fakeCascade{deleteErr: context.DeadlineExceeded}
	s := newTestService(repo, nil, cascade)

	if err := s.DeleteTarget(context.Background(), "db1"); err != nil {
		t.Fatalf("DeleteTarget() error = %v, want nil even though cascade failed", err)
	}
	if _, ok := repo.targets["db1"]; ok {
		t.Error("DeleteTarget() should remove the row even when the cascade errors")
	}
	// ClosePool still runs — a failed statistics cascade shouldn't leak a pool.
	if len(cascade.closedHosts) != 1 {
		t.Errorf("cascade.ClosePool called %d times, want 1", len(cascade.closedHosts))
	}
}

func TestDeleteTargetNotFound(t *testing.T) {
	repo := newFakeTargetRepository()
	s := newTestService(repo, nil, &fakeCascade{})

	if err := s.DeleteTarget(context.Background(), "ghost"); err != ErrNotFound {
		t.Errorf("DeleteTarget() on missing target error = %v, want ErrNotFound", err)
	}
}
