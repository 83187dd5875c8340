package domain

import "time"

// FeedFormat identifies the syndication format a document was parsed from
type FeedFormat string

// supported feed formats
const (
	FormatRSS  FeedFormat = "rss"
	FormatAtom FeedFormat = "atom"
)

// FeedDocument is the parsed representation of an RSS/Atom source.
// It is recreated on every fetch and never mutated after parsing.
type FeedDocument struct {
	Title       string
	Description string
	Link        string
	Items       []FeedItem
	Format      FeedFormat
	LastUpdated time.Time
}

// FeedItem is a single item/entry of a feed. ID is never empty: the parser
// falls back to the link and then to a positional synthetic id when no
// guid/id is present.
type FeedItem struct {
	ID          string
	Title       string
	Description string
	FullContent string
	Link        string
	PublishedAt time.Time
	Author      string
	Categories  []string
	Enclosure   *Enclosure
}

// Enclosure describes an attached media resource of a feed item
type Enclosure struct {
	URL    string
	Type   string
	Length int64
}
