package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kapu/otstats-go/internal/domain"
	"github.com/kapu/otstats-go/internal/util"
)

// memoryStore is the in-memory CharacterStore the service tests share. Writes
// inside a transaction stage until Commit so rollback behavior is observable.
type memoryStore struct {
	mu         sync.Mutex
	nextCharID int64
	nextSnapID int64
	characters map[int64]*domain.Character
	snapshots  map[int64]map[string]*domain.Snapshot

	findErr   error
	createErr error
	insertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		characters: make(map[int64]*domain.Character),
		snapshots:  make(map[int64]map[string]*domain.Snapshot),
	}
}

func dateKey(t time.Time) string {
	return util.DateOnly(t).Format("2006-01-02")
}

func (s *memoryStore) addCharacter(c *domain.Character) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCharID++
	c.ID = s.nextCharID
	s.characters[c.ID] = c
	return c.ID
}

func (s *memoryStore) snapshotCount(characterID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots[characterID])
}

func (s *memoryStore) snapshotOn(characterID int64, date time.Time) *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[characterID][dateKey(date)]
}

func (s *memoryStore) FindCharacter(_ context.Context, name, server, world string) (*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, c := range s.characters {
		if strings.EqualFold(c.Name, name) && c.Server == server && strings.EqualFold(c.World, world) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetCharacter(_ context.Context, id int64) (*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.characters[id], nil
}

func (s *memoryStore) CreateCharacter(_ context.Context, c *domain.Character) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.nextCharID++
	c.ID = s.nextCharID
	s.characters[c.ID] = c
	return c.ID, nil
}

func (s *memoryStore) Begin(_ context.Context) (SnapshotTx, error) {
	return &memoryTx{store: s, staged: make(map[int64]map[string]*domain.Snapshot)}, nil
}

func (s *memoryStore) LatestSnapshot(_ context.Context, characterID int64) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(characterID), nil
}

func (s *memoryStore) latestLocked(characterID int64) *domain.Snapshot {
	var latest *domain.Snapshot
	for _, snap := range s.snapshots[characterID] {
		if latest == nil || snap.ExpDate.After(latest.ExpDate) {
			latest = snap
		}
	}
	return latest
}

func (s *memoryStore) SnapshotsSince(_ context.Context, characterID int64, since time.Time) ([]*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Snapshot
	for _, snap := range s.snapshots[characterID] {
		if !snap.ExpDate.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memoryStore) PositiveExperienceDays(_ context.Context, characterID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, snap := range s.snapshots[characterID] {
		if !snap.ExpDate.Before(since) && snap.ExperienceGained > 0 {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) DueForRecovery(_ context.Context, now time.Time) ([]*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.Character
	for _, c := range s.characters {
		if !c.IsActive || !c.RecoveryActive {
			continue
		}
		if c.NextScrapeAt == nil || !c.NextScrapeAt.After(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

func (s *memoryStore) ActiveRecoveryCharacters(_ context.Context) ([]*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Character
	for _, c := range s.characters {
		if c.IsActive && c.RecoveryActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memoryStore) MarkScrapeSuccess(_ context.Context, id int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[id]
	if !ok {
		return fmt.Errorf("character %d not found", id)
	}
	c.ConsecutiveErrors = 0
	c.LastError = ""
	c.NextScrapeAt = &next
	return nil
}

func (s *memoryStore) MarkScrapeFailure(_ context.Context, id int64, errText string, next time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[id]
	if !ok {
		return 0, fmt.Errorf("character %d not found", id)
	}
	c.ConsecutiveErrors++
	c.LastError = errText
	c.NextScrapeAt = &next
	return c.ConsecutiveErrors, nil
}

func (s *memoryStore) SetRecoveryActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[id]
	if !ok {
		return fmt.Errorf("character %d not found", id)
	}
	c.RecoveryActive = active
	return nil
}

// memoryTx stages writes until Commit; Rollback discards them.
type memoryTx struct {
	store      *memoryStore
	staged     map[int64]map[string]*domain.Snapshot
	charUpdate map[int64]domain.CharacterUpdate
	done       bool
}

func (tx *memoryTx) GetSnapshot(_ context.Context, characterID int64, expDate time.Time) (*domain.Snapshot, error) {
	key := dateKey(expDate)
	if snap, ok := tx.staged[characterID][key]; ok {
		return snap, nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return tx.store.snapshots[characterID][key], nil
}

func (tx *memoryTx) LatestSnapshot(_ context.Context, characterID int64) (*domain.Snapshot, error) {
	tx.store.mu.Lock()
	latest := tx.store.latestLocked(characterID)
	tx.store.mu.Unlock()
	for _, snap := range tx.staged[characterID] {
		if latest == nil || snap.ExpDate.After(latest.ExpDate) {
			latest = snap
		}
	}
	return latest, nil
}

func (tx *memoryTx) InsertSnapshot(_ context.Context, snap *domain.Snapshot) error {
	if tx.store.insertErr != nil {
		return tx.store.insertErr
	}
	tx.store.mu.Lock()
	tx.store.nextSnapID++
	snap.ID = tx.store.nextSnapID
	tx.store.mu.Unlock()
	tx.stage(snap)
	return nil
}

func (tx *memoryTx) UpdateSnapshot(_ context.Context, snap *domain.Snapshot) error {
	tx.stage(snap)
	return nil
}

func (tx *memoryTx) stage(snap *domain.Snapshot) {
	if tx.staged[snap.CharacterID] == nil {
		tx.staged[snap.CharacterID] = make(map[string]*domain.Snapshot)
	}
	tx.staged[snap.CharacterID][dateKey(snap.ExpDate)] = snap
}

func (tx *memoryTx) UpdateCharacter(_ context.Context, characterID int64, update domain.CharacterUpdate) error {
	if tx.charUpdate == nil {
		tx.charUpdate = make(map[int64]domain.CharacterUpdate)
	}
	tx.charUpdate[characterID] = update
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for characterID, rows := range tx.staged {
		if tx.store.snapshots[characterID] == nil {
			tx.store.snapshots[characterID] = make(map[string]*domain.Snapshot)
		}
		for key, snap := range rows {
			tx.store.snapshots[characterID][key] = snap
		}
	}
	for characterID, update := range tx.charUpdate {
		c, ok := tx.store.characters[characterID]
		if !ok {
			continue
		}
		c.Level = update.Level
		c.Vocation = update.Vocation
		c.Residence = update.Residence
		c.Guild = update.Guild
		c.GuildRank = update.GuildRank
		c.IsOnline = update.IsOnline
		c.OutfitURL = update.OutfitURL
		c.LastScrapedAt = &update.LastScrapedAt
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	tx.done = true
	tx.staged = nil
	tx.charUpdate = nil
	return nil
}

// fakeScraper returns scripted results and records call order and overlap.
type fakeScraper struct {
	mu       sync.Mutex
	results  map[string]*domain.ScrapeResult
	fallback func(server, name, world string) *domain.ScrapeResult
	calls    []string
	inFlight int
	maxSeen  int
	settle   time.Duration
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{results: make(map[string]*domain.ScrapeResult)}
}

func (f *fakeScraper) Scrape(_ context.Context, server, name, world string) *domain.ScrapeResult {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	result, scripted := f.results[name]
	fallback := f.fallback
	settle := f.settle
	f.mu.Unlock()

	if settle > 0 {
		time.Sleep(settle)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if scripted {
		return result
	}
	if fallback != nil {
		return fallback(server, name, world)
	}
	return successResult(name, 100)
}

func (f *fakeScraper) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.calls {
		if n == name {
			count++
		}
	}
	return count
}

func successResult(name string, level int) *domain.ScrapeResult {
	return &domain.ScrapeResult{
		Success: true,
		Snapshot: &domain.CharacterSnapshot{
			Name:   name,
			Server: "rubinot",
			World:  "Mystera",
			Level:  level,
		},
	}
}
