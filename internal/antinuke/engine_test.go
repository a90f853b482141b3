package antinuke

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nukeguard/internal/storage"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memConfigStore struct {
	mu      sync.Mutex
	configs map[string]*storage.ProtectionConfig
	gets    int
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: make(map[string]*storage.ProtectionConfig)}
}

func (s *memConfigStore) GetProtection(ctx context.Context, guildID string) (*storage.ProtectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	cfg, ok := s.configs[guildID]
	if !ok {
		return nil, nil
	}
	copied := *cfg
	return &copied, nil
}

func (s *memConfigStore) GetOrCreateProtection(ctx context.Context, guildID string, defaults storage.ProtectionConfig) (*storage.ProtectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[guildID]; ok {
		copied := *cfg
		return &copied, nil
	}
	defaults.GuildID = guildID
	s.configs[guildID] = &defaults
	copied := defaults
	return &copied, nil
}

func (s *memConfigStore) SaveProtection(ctx context.Context, cfg storage.ProtectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cfg
	s.configs[cfg.GuildID] = &copied
	return nil
}

func (s *memConfigStore) AddExemptUser(ctx context.Context, guildID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[guildID]; ok {
		cfg.ExemptUserIDs = append(cfg.ExemptUserIDs, userID)
	}
	return nil
}

func (s *memConfigStore) RemoveExemptUser(ctx context.Context, guildID, userID string) error {
	return nil
}

func (s *memConfigStore) AddExemptRole(ctx context.Context, guildID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[guildID]; ok {
		cfg.ExemptRoleIDs = append(cfg.ExemptRoleIDs, roleID)
	}
	return nil
}

func (s *memConfigStore) RemoveExemptRole(ctx context.Context, guildID, roleID string) error {
	return nil
}

type memAuditStore struct {
	mu     sync.Mutex
	events []*storage.ViolationEvent
}

func (s *memAuditStore) SaveViolationEvent(ctx context.Context, event *storage.ViolationEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return event.ID, nil
}

func (s *memAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakePlatform struct {
	mu      sync.Mutex
	granted []string
	banned  []string
	kicked  []string
	locked  []string
	err     error
}

func (p *fakePlatform) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.granted = append(p.granted, guildID+"/"+userID+"/"+roleID)
	return nil
}

func (p *fakePlatform) BanMember(ctx context.Context, guildID, userID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.banned = append(p.banned, guildID+"/"+userID)
	return nil
}

func (p *fakePlatform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.kicked = append(p.kicked, guildID+"/"+userID)
	return nil
}

func (p *fakePlatform) LockdownGuild(ctx context.Context, guildID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.locked = append(p.locked, guildID)
	return nil
}

func (p *fakePlatform) SendLogMessage(ctx context.Context, channelID string, event *storage.ViolationEvent) error {
	return nil
}

type fakeDirectory struct {
	owner string
	roles map[string][]string
}

func (d *fakeDirectory) GuildOwner(guildID string) string { return d.owner }

func (d *fakeDirectory) MemberRoles(guildID, userID string) []string { return d.roles[userID] }

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	configs  *memConfigStore
	audit    *memAuditStore
	platform *fakePlatform
}

func newTestEngine(t *testing.T, defaults storage.ProtectionConfig) *engineFixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	configs := newMemConfigStore()
	auditStore := &memAuditStore{}
	platform := &fakePlatform{}
	recorder := NewRecorder(auditStore, zap.NewNop(), nil, 16)
	t.Cleanup(recorder.Close)

	engine := NewEngine(
		configs,
		NewDispatcher(platform, time.Second),
		recorder,
		&fakeDirectory{owner: "owner", roles: map[string][]string{}},
		zap.NewNop(),
		nil,
		defaults,
		15*time.Second,
	)
	engine.clock = clock
	return &engineFixture{engine: engine, clock: clock, configs: configs, audit: auditStore, platform: platform}
}

func testProtection(guildID string) *storage.ProtectionConfig {
	return &storage.ProtectionConfig{
		GuildID:                guildID,
		Enabled:                true,
		ResponseType:           "quarantine",
		WindowSeconds:          60,
		QuarantineRoleID:       "qrole",
		ChannelCreateThreshold: 10,
		ChannelDeleteThreshold: 3,
		RoleCreateThreshold:    10,
		RoleDeleteThreshold:    5,
		MemberBanThreshold:     10,
		MemberKickThreshold:    10,
		MemberPruneThreshold:   50,
		WebhookCreateThreshold: 10,
		WebhookDeleteThreshold: 10,
	}
}

func TestRecordActionBelowThreshold(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event != nil {
			t.Fatalf("no violation expected below threshold, got %+v", event)
		}
	}
	if len(f.platform.granted) != 0 {
		t.Fatalf("no response expected below threshold")
	}
}

func TestRecordActionThresholdCrossing(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, map[string]string{"target_id": "c3"})
	if event == nil {
		t.Fatalf("expected a violation on the third action")
	}
	if event.ObservedCount != 3 || event.Threshold != 3 {
		t.Fatalf("expected count 3 threshold 3, got %d/%d", event.ObservedCount, event.Threshold)
	}
	if !event.ResponseExecuted {
		t.Fatalf("response should have executed: %s", event.ResponseError)
	}
	if event.ID == "" {
		t.Fatalf("event id should be set")
	}
	if len(f.platform.granted) != 1 || f.platform.granted[0] != "g1/u1/qrole" {
		t.Fatalf("expected one quarantine grant, got %v", f.platform.granted)
	}
}

func TestRecordActionRetriggersAboveThreshold(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	}
	// Every action at or past the threshold produces its own event.
	for i := 0; i < 3; i++ {
		if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event == nil {
			t.Fatalf("expected violation on action %d", i+3)
		}
	}
	if len(f.platform.granted) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(f.platform.granted))
	}
}

func TestRecordActionWindowExpiry(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	f.clock.advance(10 * time.Second)
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	f.clock.advance(10 * time.Second)
	event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	if event == nil || event.ObservedCount != 3 {
		t.Fatalf("expected violation with count 3 at t=20s")
	}
	f.clock.advance(5 * time.Second)
	event = f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	if event == nil || event.ObservedCount != 4 {
		t.Fatalf("expected re-trigger with count 4 at t=25s")
	}
	// 100 seconds later everything before has aged out.
	f.clock.advance(100 * time.Second)
	if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event != nil {
		t.Fatalf("expected fresh window at t=125s, got %+v", event)
	}
}

func TestRecordActionExemptActor(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	cfg := testProtection("g1")
	cfg.ExemptUserIDs = []string{"trusted"}
	f.configs.configs["g1"] = cfg

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if event := f.engine.RecordAction(ctx, "g1", "trusted", ActionChannelDelete, nil); event != nil {
			t.Fatalf("exempt actor must never trigger")
		}
	}
	// The short-circuit happens before the ledger records anything.
	if got := f.engine.ledger.Len(); got != 0 {
		t.Fatalf("exempt actions must not touch the ledger, got %d keys", got)
	}

	if event := f.engine.RecordAction(ctx, "g1", "owner", ActionChannelDelete, nil); event != nil {
		t.Fatalf("guild owner must never trigger")
	}
	if got := f.engine.ledger.Len(); got != 0 {
		t.Fatalf("owner actions must not touch the ledger, got %d keys", got)
	}
}

func TestRecordActionDisabledGuild(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	cfg := testProtection("g1")
	cfg.Enabled = false
	f.configs.configs["g1"] = cfg

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event != nil {
			t.Fatalf("disabled guild must never trigger")
		}
	}
	if got := f.engine.ledger.Len(); got != 0 {
		t.Fatalf("disabled guild must not record, got %d keys", got)
	}
}

func TestRecordActionUnknownGuildUsesDefaults(t *testing.T) {
	defaults := *testProtection("")
	f := newTestEngine(t, defaults)

	ctx := context.Background()
	f.engine.RecordAction(ctx, "fresh", "u1", ActionChannelDelete, nil)
	f.engine.RecordAction(ctx, "fresh", "u1", ActionChannelDelete, nil)
	event := f.engine.RecordAction(ctx, "fresh", "u1", ActionChannelDelete, nil)
	if event == nil || event.Threshold != 3 {
		t.Fatalf("defaults should apply to unconfigured guilds")
	}
	if _, ok := f.configs.configs["fresh"]; ok {
		t.Fatalf("hot path must not create config rows")
	}
}

func TestRecordActionDispatchFailure(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")
	f.platform.err = errors.New("missing permissions")

	ctx := context.Background()
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	if event == nil {
		t.Fatalf("event must survive a failed response")
	}
	if event.ResponseExecuted {
		t.Fatalf("response should be marked failed")
	}
	if event.ResponseError == "" {
		t.Fatalf("response error should be recorded")
	}

	// Detection keeps running after the failure.
	if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event == nil {
		t.Fatalf("detection must continue after a dispatch failure")
	}
}

func TestRecordActionMalformed(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	if event := f.engine.RecordAction(ctx, "", "u1", ActionChannelDelete, nil); event != nil {
		t.Fatalf("missing guild id must be dropped")
	}
	if event := f.engine.RecordAction(ctx, "g1", "", ActionChannelDelete, nil); event != nil {
		t.Fatalf("missing actor id must be dropped")
	}
	if event := f.engine.RecordAction(ctx, "g1", "u1", ActionType("emoji_create"), nil); event != nil {
		t.Fatalf("unknown action type must be dropped")
	}
	if got := f.engine.ledger.Len(); got != 0 {
		t.Fatalf("malformed actions must not record, got %d keys", got)
	}
}

func TestRecordActionPersistsEvents(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.audit.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("violation event was not persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpdateProtectionInvalidatesCache(t *testing.T) {
	f := newTestEngine(t, storage.ProtectionConfig{})
	f.configs.configs["g1"] = testProtection("g1")

	ctx := context.Background()
	f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil)

	updated := *testProtection("g1")
	updated.ChannelDeleteThreshold = 2
	if err := f.engine.UpdateProtection(ctx, updated); err != nil {
		t.Fatalf("update protection: %v", err)
	}

	// The write invalidated the cache, so the new threshold applies at once.
	if event := f.engine.RecordAction(ctx, "g1", "u1", ActionChannelDelete, nil); event == nil {
		t.Fatalf("expected violation under the lowered threshold")
	}
}
