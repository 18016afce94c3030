// SPDX-License-Identifier: MIT

// Package rss builds iTunes-extended RSS 2.0 documents. The element set
// podcast clients expect (itunes:title, itunes:episodeType, per-item
// source, guid isPermaLink) is wider than what off-the-shelf feed
// libraries expose, so the document is modeled directly in encoding/xml.
package rss

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"time"
)

const (
	itunesNS = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	atomNS   = "http://www.w3.org/2005/Atom"

	// Generator identifies the daemon in the feed header.
	Generator = "AnyPod: https://github.com/thurstonsan/anypod"

	// TTLMinutes advises clients how long to cache the document.
	TTLMinutes = 60
)

type xmlDoc struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	ItunesNS string     `xml:"xmlns:itunes,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	Channel  xmlChannel `xml:"channel"`
}

type xmlChannel struct {
	Title          string             `xml:"title"`
	AtomLink       xmlAtomLink        `xml:"atom:link"`
	Link           string             `xml:"link"`
	Description    string             `xml:"description"`
	ItunesSummary  string             `xml:"itunes:summary,omitempty"`
	ItunesSubtitle string             `xml:"itunes:subtitle,omitempty"`
	Language       string             `xml:"language"`
	Categories     []string           `xml:"category"`
	ItunesCategory []xmlItunesCategory `xml:"itunes:category"`
	ItunesType     string             `xml:"itunes:type,omitempty"`
	ItunesExplicit string             `xml:"itunes:explicit,omitempty"`
	ItunesImage    *xmlItunesImage    `xml:"itunes:image,omitempty"`
	ItunesAuthor   string             `xml:"itunes:author,omitempty"`
	ItunesOwner    *xmlItunesOwner    `xml:"itunes:owner,omitempty"`
	LastBuildDate  string             `xml:"lastBuildDate"`
	Generator      string             `xml:"generator"`
	TTL            int                `xml:"ttl"`
	Items          []xmlItem          `xml:"item"`
}

type xmlAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type xmlItunesCategory struct {
	Text string              `xml:"text,attr"`
	Sub  []xmlItunesCategory `xml:"itunes:category,omitempty"`
}

type xmlItunesImage struct {
	Href string `xml:"href,attr"`
}

type xmlItunesOwner struct {
	Name  string `xml:"itunes:name,omitempty"`
	Email string `xml:"itunes:email,omitempty"`
}

type xmlGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type xmlEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type xmlItem struct {
	GUID              xmlGUID         `xml:"guid"`
	Title             string          `xml:"title"`
	ItunesTitle       string          `xml:"itunes:title"`
	Description       string          `xml:"description"`
	ItunesSummary     string          `xml:"itunes:summary"`
	ItunesImage       *xmlItunesImage `xml:"itunes:image,omitempty"`
	Enclosure         xmlEnclosure    `xml:"enclosure"`
	Link              string          `xml:"link"`
	PubDate           string          `xml:"pubDate"`
	Source            string          `xml:"source,omitempty"`
	ItunesDuration    string          `xml:"itunes:duration"`
	ItunesEpisodeType string          `xml:"itunes:episodeType"`
}

// ChannelData carries the feed-level fields of a document.
type ChannelData struct {
	Title       string
	FeedURL     string // self link
	SourceURL   string // alternate link to the upstream source
	Description string
	Subtitle    string
	Language    string
	Categories  []Category
	PodcastType string // episodic | serial
	Explicit    string // true | false | clean
	ImageURL    string
	Author      string
	AuthorEmail string
	BuildTime   time.Time
}

// ItemData carries one episode entry.
type ItemData struct {
	SourceURL    string // also the permalink guid
	Title        string
	Description  string
	ImageURL     string
	EnclosureURL string
	Filesize     int64
	MimeType     string
	Published    time.Time
	Duration     int64 // seconds
}

// InvalidImageURL is reported through the warn callback when an item
// image URL does not parse; the item is emitted without it.
type InvalidImageURL struct {
	URL string
}

// Builder assembles one document.
type Builder struct {
	doc  xmlDoc
	warn func(itemURL, imageURL string)
}

// NewBuilder starts a document from channel data. warn, if non-nil,
// receives invalid item image URLs that were skipped.
func NewBuilder(ch ChannelData, warn func(itemURL, imageURL string)) *Builder {
	language := ch.Language
	if language == "" {
		language = "en"
	}

	channel := xmlChannel{
		Title:          ch.Title,
		AtomLink:       xmlAtomLink{Href: ch.FeedURL, Rel: "self", Type: "application/rss+xml"},
		Link:           ch.SourceURL,
		Description:    ch.Description,
		ItunesSummary:  ch.Description,
		ItunesSubtitle: ch.Subtitle,
		Language:       language,
		ItunesType:     ch.PodcastType,
		ItunesExplicit: ch.Explicit,
		ItunesAuthor:   ch.Author,
		LastBuildDate:  ch.BuildTime.UTC().Format(time.RFC1123Z),
		Generator:      Generator,
		TTL:            TTLMinutes,
	}
	for _, cat := range ch.Categories {
		channel.Categories = append(channel.Categories, cat.String())
		ic := xmlItunesCategory{Text: cat.Main}
		if cat.Sub != "" {
			ic.Sub = []xmlItunesCategory{{Text: cat.Sub}}
		}
		channel.ItunesCategory = append(channel.ItunesCategory, ic)
	}
	if ch.ImageURL != "" {
		channel.ItunesImage = &xmlItunesImage{Href: ch.ImageURL}
	}
	if ch.Author != "" || ch.AuthorEmail != "" {
		channel.ItunesOwner = &xmlItunesOwner{Name: ch.Author, Email: ch.AuthorEmail}
	}

	return &Builder{
		doc: xmlDoc{
			Version:  "2.0",
			ItunesNS: itunesNS,
			AtomNS:   atomNS,
			Channel:  channel,
		},
		warn: warn,
	}
}

// AddItem appends one episode. Items should be added newest first.
func (b *Builder) AddItem(item ItemData) {
	description := item.Description
	if description == "" {
		description = item.Title
	}

	x := xmlItem{
		GUID:              xmlGUID{IsPermaLink: "true", Value: item.SourceURL},
		Title:             item.Title,
		ItunesTitle:       item.Title,
		Description:       description,
		ItunesSummary:     description,
		Enclosure:         xmlEnclosure{URL: item.EnclosureURL, Length: item.Filesize, Type: item.MimeType},
		Link:              item.SourceURL,
		PubDate:           item.Published.UTC().Format(time.RFC1123Z),
		Source:            item.SourceURL,
		ItunesDuration:    FormatDuration(item.Duration),
		ItunesEpisodeType: "full",
	}

	if item.ImageURL != "" {
		if _, err := url.ParseRequestURI(item.ImageURL); err != nil {
			if b.warn != nil {
				b.warn(item.SourceURL, item.ImageURL)
			}
		} else {
			x.ItunesImage = &xmlItunesImage{Href: item.ImageURL}
		}
	}

	b.doc.Channel.Items = append(b.doc.Channel.Items, x)
}

// ItemCount returns the number of items added so far.
func (b *Builder) ItemCount() int {
	return len(b.doc.Channel.Items)
}

// Encode writes the pretty-printed UTF-8 document.
func (b *Builder) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("rss: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(b.doc); err != nil {
		return fmt.Errorf("rss: encode document: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("rss: write trailer: %w", err)
	}
	return nil
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
