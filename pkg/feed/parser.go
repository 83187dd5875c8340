package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"

	"github.com/replyscope/replyscope/pkg/domain"
)

// ErrParse marks input that is not a recognizable RSS/Atom feed
var ErrParse = errors.New("not a valid feed")

// Parser turns raw feed text into a FeedDocument. It is intentionally
// tolerant: feeds in the wild are frequently malformed, so extraction is a
// best-effort token scan where unknown tags are ignored and the first
// matching tag wins. Only catastrophically broken input is rejected.
type Parser struct {
	sanitizer *bluemonday.Policy
}

// NewParser creates a new feed parser
func NewParser() *Parser {
	return &Parser{sanitizer: bluemonday.StrictPolicy()}
}

// Parse parses raw RSS 2.0, Atom or RSS 1.0/RDF text into a FeedDocument.
// Zero items is valid; an empty channel/feed is not.
func (p *Parser) Parse(raw string) (*domain.FeedDocument, error) {
	format, ok := detectFormat(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no rss or atom markers found", ErrParse)
	}

	doc := &domain.FeedDocument{Format: format}

	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.CharsetReader = charset.NewReaderLabel

	var cur *itemBuilder
	for {
		tok, err := dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) && doc.Title == "" && len(doc.Items) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrParse, err)
			}
			break // best-effort: keep whatever was extracted before the error
		}

		start, isStart := tok.(xml.StartElement)
		if !isStart {
			if end, isEnd := tok.(xml.EndElement); isEnd && cur != nil {
				name := strings.ToLower(end.Name.Local)
				if name == "item" || name == "entry" {
					doc.Items = append(doc.Items, cur.build(len(doc.Items)))
					cur = nil
				}
			}
			continue
		}

		name := strings.ToLower(start.Name.Local)
		if cur == nil && (name == "item" || name == "entry") {
			cur = &itemBuilder{parser: p, format: format}
			continue
		}

		if cur != nil {
			cur.consume(dec, start, name)
			continue
		}
		p.consumeChannel(dec, start, name, doc)
	}

	if doc.Title == "" && doc.Description == "" && doc.Link == "" && len(doc.Items) == 0 {
		return nil, fmt.Errorf("%w: empty channel", ErrParse)
	}
	return doc, nil
}

// consumeChannel handles feed-level metadata, everything preceding the first
// item/entry. First matching tag wins.
func (p *Parser) consumeChannel(dec *xml.Decoder, start xml.StartElement, name string, doc *domain.FeedDocument) {
	switch name {
	case "title":
		if doc.Title == "" {
			doc.Title = p.clean(elementText(dec))
		}
	case "description", "subtitle":
		if doc.Description == "" {
			doc.Description = p.clean(elementText(dec))
		}
	case "link":
		if doc.Link != "" {
			return
		}
		if href := attrValue(start, "href"); href != "" {
			rel := attrValue(start, "rel")
			if rel == "" || rel == "alternate" {
				doc.Link = strings.TrimSpace(href)
			}
			return
		}
		doc.Link = strings.TrimSpace(elementText(dec))
	case "lastbuilddate", "updated", "pubdate":
		if doc.LastUpdated.IsZero() {
			if ts, ok := parseTime(elementText(dec)); ok {
				doc.LastUpdated = ts
			}
		}
	}
}

// itemBuilder accumulates fields of a single item/entry during the scan
type itemBuilder struct {
	parser *Parser
	format domain.FeedFormat

	id, title, description, fullContent, link, author string
	published                                         time.Time
	categories                                        []string
	enclosure                                         *domain.Enclosure
}

// consume handles one child element of the current item/entry
func (b *itemBuilder) consume(dec *xml.Decoder, start xml.StartElement, name string) {
	switch name {
	case "title":
		if b.title == "" {
			b.title = b.parser.clean(elementText(dec))
		}
	case "guid", "id":
		if b.id == "" {
			b.id = strings.TrimSpace(elementText(dec))
		}
	case "link":
		b.consumeLink(dec, start)
	case "description", "summary":
		if b.description == "" {
			b.description = b.parser.clean(elementText(dec))
		}
	case "encoded", "content": // content:encoded in RSS, content in Atom
		if b.fullContent == "" {
			b.fullContent = b.parser.clean(elementText(dec))
		}
	case "pubdate", "published", "updated", "date":
		if b.published.IsZero() {
			if ts, ok := parseTime(elementText(dec)); ok {
				b.published = ts
			}
		}
	case "creator": // namespaced dc:creator
		if b.author == "" {
			b.author = b.parser.clean(elementText(dec))
		}
	case "author":
		if b.author == "" {
			b.author = b.parser.cleanAuthor(authorText(dec))
		}
	case "category":
		if term := attrValue(start, "term"); term != "" {
			b.categories = append(b.categories, strings.TrimSpace(term))
			return
		}
		if c := b.parser.clean(elementText(dec)); c != "" {
			b.categories = append(b.categories, c)
		}
	case "enclosure":
		if b.enclosure == nil {
			b.enclosure = enclosureFromAttrs(start)
		}
	}
}

// consumeLink handles both RSS text links and Atom href links, including
// Atom enclosure links
func (b *itemBuilder) consumeLink(dec *xml.Decoder, start xml.StartElement) {
	href := attrValue(start, "href")
	if href == "" {
		if b.link == "" {
			b.link = strings.TrimSpace(elementText(dec))
		}
		return
	}
	switch attrValue(start, "rel") {
	case "enclosure":
		if b.enclosure == nil {
			length, _ := strconv.ParseInt(attrValue(start, "length"), 10, 64)
			b.enclosure = &domain.Enclosure{URL: href, Type: attrValue(start, "type"), Length: length}
		}
	case "", "alternate":
		if b.link == "" {
			b.link = strings.TrimSpace(href)
		}
	}
}

// build finalizes the item. The id falls back to the link and then to a
// positional synthetic id, so it is never empty.
func (b *itemBuilder) build(pos int) domain.FeedItem {
	id := b.id
	if id == "" {
		id = b.link
	}
	if id == "" {
		id = fmt.Sprintf("item-%d", pos+1)
	}
	return domain.FeedItem{
		ID:          id,
		Title:       b.title,
		Description: b.description,
		FullContent: b.fullContent,
		Link:        b.link,
		PublishedAt: b.published,
		Author:      b.author,
		Categories:  b.categories,
		Enclosure:   b.enclosure,
	}
}

// clean decodes HTML-escaped text and strips markup
func (p *Parser) clean(s string) string {
	s = html.UnescapeString(s)
	s = p.sanitizer.Sanitize(s)
	s = html.UnescapeString(s) // sanitizer re-escapes entities
	return strings.TrimSpace(s)
}

// rssAuthorRe matches the "email (Name)" convention of RSS author elements
var rssAuthorRe = regexp.MustCompile(`^\S+@\S+\s+\((.+)\)$`)

// cleanAuthor extracts a display name from RSS "email (Name)" authors
func (p *Parser) cleanAuthor(s string) string {
	s = p.clean(s)
	if m := rssAuthorRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// detectFormat guesses the feed format by marker substrings instead of full
// XML parsing, so malformed namespaces don't break detection
func detectFormat(raw string) (domain.FeedFormat, bool) {
	lower := strings.ToLower(raw)
	hasFeed := strings.Contains(lower, "<feed")
	if hasFeed && strings.Contains(lower, "<entry") {
		return domain.FormatAtom, true
	}
	if strings.Contains(lower, "<rss") || strings.Contains(lower, "<rdf") || strings.Contains(lower, "<channel") {
		return domain.FormatRSS, true
	}
	if hasFeed {
		return domain.FormatAtom, true
	}
	return "", false
}

// elementText consumes tokens until the current element closes and returns
// the concatenated character data, including CDATA sections and text of
// nested markup
func elementText(dec *xml.Decoder) string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String()
}

// authorText returns the text of an author element, preferring the nested
// <name> of Atom authors over the raw element text
func authorText(dec *xml.Decoder) string {
	var all, name strings.Builder
	depth, inName := 1, false
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if strings.EqualFold(t.Name.Local, "name") {
				inName = true
			}
		case xml.EndElement:
			depth--
			if strings.EqualFold(t.Name.Local, "name") {
				inName = false
			}
		case xml.CharData:
			all.Write(t)
			if inName {
				name.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(name.String()); s != "" {
		return s
	}
	return all.String()
}

// attrValue returns a named attribute of an element, ignoring case and
// namespace prefixes
func attrValue(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// enclosureFromAttrs builds an enclosure from RSS enclosure attributes
func enclosureFromAttrs(start xml.StartElement) *domain.Enclosure {
	url := attrValue(start, "url")
	if url == "" {
		return nil
	}
	length, _ := strconv.ParseInt(attrValue(start, "length"), 10, 64)
	return &domain.Enclosure{URL: url, Type: attrValue(start, "type"), Length: length}
}

// timeLayouts are tried in order when parsing feed dates
var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime parses a feed date in any of the common formats
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
