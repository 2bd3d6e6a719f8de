// Package feed renders the archive as an RSS 2.0 channel.
package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murphy/internal/daily"
	"github.com/MarcoPoloResearchLab/murphy/internal/laws"
)

const (
	dailyTitlePrefix = "[Law of the Day] "
	titleMaxRunes    = 60
	titleEllipsis    = "..."
	channelLanguage  = "en-us"
	atomNamespace    = "http://www.w3.org/2005/Atom"
	feedPath         = "/api/feed.rss"
	defaultItems     = 10
)

var (
	errMissingPicks = errors.New("daily pick source is required")
	errMissingLaws  = errors.New("law lister is required")
)

// DailySource yields today's law.
type DailySource interface {
	Today(ctx context.Context) (daily.Pick, error)
}

// LawLister lists published laws.
type LawLister interface {
	List(ctx context.Context, query laws.Query) (laws.ListResult, error)
}

// Config describes the channel metadata.
type Config struct {
	SiteURL     string
	Title       string
	Description string
	Items       int
	Clock       func() time.Time
}

// Builder assembles the channel from the law of the day and the newest laws.
type Builder struct {
	cfg   Config
	picks DailySource
	laws  LawLister
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg Config, picks DailySource, lister LawLister) (*Builder, error) {
	if picks == nil {
		return nil, errMissingPicks
	}
	if lister == nil {
		return nil, errMissingLaws
	}
	if cfg.Items <= 0 {
		cfg.Items = defaultItems
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Builder{cfg: cfg, picks: picks, laws: lister}, nil
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	AtomNS  string     `xml:"xmlns:atom,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate"`
	AtomLink      atomLink  `xml:"atom:link"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
	Author      string  `xml:"author,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// RSS renders the channel. The law of the day leads when there is one and is
// not repeated among the recent laws.
func (b *Builder) RSS(ctx context.Context) ([]byte, error) {
	pick, err := b.picks.Today(ctx)
	if err != nil {
		return nil, fmt.Errorf("load law of the day: %w", err)
	}
	recent, err := b.laws.List(ctx, laws.Query{
		Sort: laws.Sort{Key: laws.SortCreatedAt, Order: laws.OrderDesc},
		Page: laws.Page{Limit: b.cfg.Items},
	})
	if err != nil {
		return nil, fmt.Errorf("list recent laws: %w", err)
	}

	items := make([]rssItem, 0, len(recent.Items)+1)
	if pick.Found {
		item := b.item(pick.Law.LawView, true)
		if len(pick.Law.Attributions) > 0 {
			item.Author = pick.Law.Attributions[0].Name
		}
		items = append(items, item)
	}
	for _, law := range recent.Items {
		if pick.Found && law.ID == pick.Law.ID {
			continue
		}
		items = append(items, b.item(law, false))
	}

	document := rssDocument{
		Version: "2.0",
		AtomNS:  atomNamespace,
		Channel: rssChannel{
			Title:         b.cfg.Title,
			Link:          b.cfg.SiteURL,
			Description:   b.cfg.Description,
			Language:      channelLanguage,
			LastBuildDate: b.cfg.Clock().UTC().Format(time.RFC1123Z),
			AtomLink:      atomLink{Href: b.cfg.SiteURL + feedPath, Rel: "self", Type: "application/rss+xml"},
			Items:         items,
		},
	}
	body, err := xml.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func (b *Builder) item(law laws.LawView, isDaily bool) rssItem {
	title := ItemTitle(law)
	if isDaily {
		title = dailyTitlePrefix + title
	}
	return rssItem{
		Title:       title,
		Link:        fmt.Sprintf("%s/#/law:%d", b.cfg.SiteURL, law.ID),
		Description: law.Text,
		PubDate:     time.Unix(law.CreatedAtSeconds, 0).UTC().Format(time.RFC1123Z),
		GUID:        rssGUID{IsPermaLink: false, Value: fmt.Sprintf("law-%d", law.ID)},
	}
}

// ItemTitle is the law's title, or its text cut to 60 characters.
func ItemTitle(law laws.LawView) string {
	if law.Title != nil && strings.TrimSpace(*law.Title) != "" {
		return *law.Title
	}
	runes := []rune(law.Text)
	if len(runes) <= titleMaxRunes {
		return law.Text
	}
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + titleEllipsis
}
