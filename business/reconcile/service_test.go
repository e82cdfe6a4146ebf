package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/ldtteam/rewardsync/domain"
)

// fakeDirectory tracks role membership as state, the way the real API does:
// adding a held role and removing an absent one both succeed.
type fakeDirectory struct {
	roles    map[string]map[string]bool // "guild|member" -> roleID -> held
	addCalls int
	rmCalls  int
	failures int // fail this many calls before succeeding
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{roles: make(map[string]map[string]bool)}
}

func memberKey(guildID, memberID string) string {
	return guildID + "|" + memberID
}

func (f *fakeDirectory) AddRole(ctx context.Context, guildID, memberID, roleID string) error {
	f.addCalls++
	if f.failures > 0 {
		f.failures--
		return errors.New("directory unavailable")
	}
	key := memberKey(guildID, memberID)
	if f.roles[key] == nil {
		f.roles[key] = make(map[string]bool)
	}
	f.roles[key][roleID] = true
	return nil
}

func (f *fakeDirectory) RemoveRole(ctx context.Context, guildID, memberID, roleID string) error {
	f.rmCalls++
	if f.failures > 0 {
		f.failures--
		return errors.New("directory unavailable")
	}
	delete(f.roles[memberKey(guildID, memberID)], roleID)
	return nil
}

func (f *fakeDirectory) heldRoles(guildID, memberID string) []string {
	var out []string
	for roleID, held := range f.roles[memberKey(guildID, memberID)] {
		if held {
			out = append(out, roleID)
		}
	}
	sort.Strings(out)
	return out
}

type fakeMembers struct {
	keys map[uint]string
	err  error // store failure, returned before any lookup
}

func (f *fakeMembers) FindProviderKey(ctx context.Context, userID uint, provider string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key, ok := f.keys[userID]
	if !ok {
		return "", domain.ErrIdentityNotFound
	}
	return key, nil
}

func testMappings() *RoleMappings {
	return &RoleMappings{Guilds: map[string]map[string][]string{
		"guild-1": {
			"patreon/supporter": {"role-a", "role-b"},
		},
		"guild-2": {
			"patreon/supporter": {"role-c"},
		},
	}}
}

func grantedEvent() domain.RewardEvent {
	return domain.RewardEvent{
		EventID:    "ev-1",
		UserID:     7,
		RewardType: "patreon",
		RewardName: "supporter",
		Kind:       domain.KindGranted,
	}
}

func TestApplyGrantedAddsMappedRoles(t *testing.T) {
	directory := newFakeDirectory()
	members := &fakeMembers{keys: map[uint]string{7: "member-7"}}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	if err := svc.Apply(context.Background(), grantedEvent()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if got := directory.heldRoles("guild-1", "member-7"); fmt.Sprint(got) != "[role-a role-b]" {
		t.Errorf("guild-1 roles = %v, want [role-a role-b]", got)
	}
	if got := directory.heldRoles("guild-2", "member-7"); fmt.Sprint(got) != "[role-c]" {
		t.Errorf("guild-2 roles = %v, want [role-c]", got)
	}
	if directory.addCalls != 3 {
		t.Errorf("addCalls = %d, want 3", directory.addCalls)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	directory := newFakeDirectory()
	members := &fakeMembers{keys: map[uint]string{7: "member-7"}}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	event := grantedEvent()
	if err := svc.Apply(context.Background(), event); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	after := fmt.Sprint(directory.heldRoles("guild-1", "member-7"))

	// at-least-once delivery: the same event again must change nothing
	if err := svc.Apply(context.Background(), event); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if got := fmt.Sprint(directory.heldRoles("guild-1", "member-7")); got != after {
		t.Errorf("external state changed on redelivery: %v -> %v", after, got)
	}

	// revoking twice tolerates the already-absent role
	revoke := event
	revoke.Kind = domain.KindRevoked
	if err := svc.Apply(context.Background(), revoke); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := svc.Apply(context.Background(), revoke); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
	if got := directory.heldRoles("guild-1", "member-7"); len(got) != 0 {
		t.Errorf("roles remain after revoke: %v", got)
	}
}

func TestApplySkipsUnmappedReward(t *testing.T) {
	directory := newFakeDirectory()
	members := &fakeMembers{keys: map[uint]string{7: "member-7"}}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	event := grantedEvent()
	event.RewardName = "unmapped"

	if err := svc.Apply(context.Background(), event); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if directory.addCalls != 0 {
		t.Errorf("directory called for unmapped reward")
	}
}

func TestApplySkipsUserWithoutChatIdentity(t *testing.T) {
	directory := newFakeDirectory()
	members := &fakeMembers{keys: map[uint]string{}}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	if err := svc.Apply(context.Background(), grantedEvent()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if directory.addCalls != 0 {
		t.Errorf("directory called for user without linked identity")
	}
}

func TestApplyReturnsErrorWhenIdentityStoreUnavailable(t *testing.T) {
	directory := newFakeDirectory()
	members := &fakeMembers{err: errors.New("connection refused")}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	// A store outage must surface as an error so the event is redelivered,
	// not treated as "user has no linked identity" and dropped.
	if err := svc.Apply(context.Background(), grantedEvent()); err == nil {
		t.Fatal("expected error when identity store is unavailable")
	}
	if directory.addCalls != 0 {
		t.Errorf("directory called despite unresolved member")
	}

	// Once the store recovers the same event applies cleanly.
	members.err = nil
	members.keys = map[uint]string{7: "member-7"}
	if err := svc.Apply(context.Background(), grantedEvent()); err != nil {
		t.Fatalf("apply after recovery failed: %v", err)
	}
	if got := directory.heldRoles("guild-1", "member-7"); fmt.Sprint(got) != "[role-a role-b]" {
		t.Errorf("guild-1 roles = %v, want [role-a role-b]", got)
	}
}

func TestApplySurfacesDirectoryFailureForRetry(t *testing.T) {
	directory := newFakeDirectory()
	directory.failures = 3
	members := &fakeMembers{keys: map[uint]string{7: "member-7"}}
	svc := NewReconcileService(directory, members, testMappings(), 2)

	event := grantedEvent()

	// the bus redelivers on error; three failing deliveries then success
	var err error
	attempts := 0
	for attempts = 1; attempts <= 5; attempts++ {
		if err = svc.Apply(context.Background(), event); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("never converged: %v", err)
	}

	t.Logf("converged after %d deliveries, %d add calls", attempts, directory.addCalls)

	if got := directory.heldRoles("guild-1", "member-7"); fmt.Sprint(got) != "[role-a role-b]" {
		t.Errorf("guild-1 roles = %v, want [role-a role-b]", got)
	}
	if got := directory.heldRoles("guild-2", "member-7"); fmt.Sprint(got) != "[role-c]" {
		t.Errorf("guild-2 roles = %v, want [role-c]", got)
	}
}
