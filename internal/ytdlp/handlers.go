// SPDX-License-Identifier: MIT

package ytdlp

import (
	"net/url"
	"strings"
)

// sourceHandler adapts fetch behavior to one upstream host. The generic
// handler covers everything yt-dlp supports without special casing.
type sourceHandler interface {
	name() string
	matches(host string) bool

	// rewriteChannelURL returns the URL to enumerate when a discovery
	// fetch identified a channel page, or "" when not applicable.
	rewriteChannelURL(resolvedURL string) string

	// decorate applies host-specific fixes to a parsed item.
	decorate(item *Item, e *entry)
}

var handlers = []sourceHandler{
	&youtubeHandler{},
	&patreonHandler{},
	&twitterHandler{},
}

var fallbackHandler sourceHandler = &genericHandler{}

// handlerFor selects the handler for a URL.
func handlerFor(rawURL string) sourceHandler {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackHandler
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, h := range handlers {
		if h.matches(host) {
			return h
		}
	}
	return fallbackHandler
}

// youtubeHandler covers youtube.com and youtu.be.
type youtubeHandler struct{}

func (*youtubeHandler) name() string { return "youtube" }

func (*youtubeHandler) matches(host string) bool {
	return host == "youtube.com" || host == "m.youtube.com" ||
		host == "youtu.be" || strings.HasSuffix(host, ".youtube.com")
}

// rewriteChannelURL points a bare channel page at its uploads tab. The
// explicit tabs (/videos, /streams, /shorts) pass through untouched.
func (*youtubeHandler) rewriteChannelURL(resolvedURL string) string {
	for _, tab := range []string{"/videos", "/streams", "/shorts"} {
		if strings.HasSuffix(resolvedURL, tab) || strings.HasSuffix(resolvedURL, tab+"/") {
			return ""
		}
	}
	return strings.TrimRight(resolvedURL, "/") + "/videos"
}

func (*youtubeHandler) decorate(*Item, *entry) {}

// patreonHandler covers patreon.com posts and campaigns.
type patreonHandler struct{}

func (*patreonHandler) name() string { return "patreon" }

func (*patreonHandler) matches(host string) bool {
	return host == "patreon.com" || strings.HasSuffix(host, ".patreon.com")
}

func (*patreonHandler) rewriteChannelURL(string) string { return "" }

// decorate attaches the remote-probe hint when Patreon metadata omits the
// audio duration. The candidate order is mandatory:
// requested_downloads[0].url, top-level url, first format url, first
// format manifest_url. The CDN requires the Patreon referer.
func (*patreonHandler) decorate(item *Item, e *entry) {
	if item.Status != ItemQueued || item.Duration > 0 {
		return
	}
	var candidates []string
	if len(e.RequestedDownloads) > 0 && e.RequestedDownloads[0].URL != "" {
		candidates = append(candidates, e.RequestedDownloads[0].URL)
	}
	if e.URL != "" {
		candidates = append(candidates, e.URL)
	}
	if len(e.Formats) > 0 {
		if u := e.Formats[0].URL; u != "" {
			candidates = append(candidates, u)
		}
		if u := e.Formats[0].ManifestURL; u != "" {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) > 0 {
		item.DurationProbe = &ProbeHint{
			Candidates: candidates,
			Referer:    "https://www.patreon.com/",
		}
	}
}

// twitterHandler covers x.com and twitter.com status URLs.
type twitterHandler struct{}

func (*twitterHandler) name() string { return "twitter" }

func (*twitterHandler) matches(host string) bool {
	return host == "twitter.com" || host == "x.com" ||
		strings.HasSuffix(host, ".twitter.com") || strings.HasSuffix(host, ".x.com")
}

func (*twitterHandler) rewriteChannelURL(string) string { return "" }

func (*twitterHandler) decorate(*Item, *entry) {}

// genericHandler is the default for everything else yt-dlp supports.
type genericHandler struct{}

func (*genericHandler) name() string { return "generic" }

func (*genericHandler) matches(string) bool { return true }

func (*genericHandler) rewriteChannelURL(string) string { return "" }

func (*genericHandler) decorate(*Item, *entry) {}
