package domain

import "time"

// Character is the persisted record for one tracked character. Identity is
// the (Name, Server, World) triple; everything else is mutable present state
// plus scrape bookkeeping.
type Character struct {
	ID        int64
	Name      string
	Server    string
	World     string
	Level     int
	Vocation  string
	Guild     string
	GuildRank string
	Residence string
	OutfitURL string
	IsOnline  bool
	LastLogin *time.Time

	LastScrapedAt     *time.Time
	ConsecutiveErrors int
	LastError         string
	NextScrapeAt      *time.Time
	RecoveryActive    bool
	IsActive          bool

	CreatedAt time.Time
}

// CharacterUpdate carries the present-tense fields the reconciler propagates
// back onto the character row after a successful scrape.
type CharacterUpdate struct {
	Level         int
	Vocation      string
	Residence     string
	Guild         string
	GuildRank     string
	IsOnline      bool
	OutfitURL     string
	LastScrapedAt time.Time
}
