// SPDX-License-Identifier: MIT

package rss

import (
	"fmt"
	"html"
	"strings"
)

// Category is one Apple Podcasts category, optionally with a subcategory.
type Category struct {
	Main string
	Sub  string
}

// String renders the canonical "Main > Sub" form.
func (c Category) String() string {
	if c.Sub != "" {
		return c.Main + " > " + c.Sub
	}
	return c.Main
}

// MaxCategories is the Apple Podcasts limit per feed.
const MaxCategories = 2

// appleTaxonomy is the closed Apple Podcasts category hierarchy:
// 19 main categories, each with its allowed subcategories.
var appleTaxonomy = map[string][]string{
	"Arts":      {"Books", "Design", "Fashion & Beauty", "Food", "Performing Arts", "Visual Arts"},
	"Business":  {"Careers", "Entrepreneurship", "Investing", "Management", "Marketing", "Non-Profit"},
	"Comedy":    {"Comedy Interviews", "Improv", "Stand-Up"},
	"Education": {"Courses", "How To", "Language Learning", "Self-Improvement"},
	"Fiction":   {"Comedy Fiction", "Drama", "Science Fiction"},
	"Government": {},
	"History":    {},
	"Health & Fitness": {"Alternative Health", "Fitness", "Medicine", "Mental Health",
		"Nutrition", "Sexuality"},
	"Kids & Family": {"Education for Kids", "Parenting", "Pets & Animals", "Stories for Kids"},
	"Leisure": {"Animation & Manga", "Automotive", "Aviation", "Crafts", "Games",
		"Hobbies", "Home & Garden", "Video Games"},
	"Music": {"Music Commentary", "Music History", "Music Interviews"},
	"News": {"Business News", "Daily News", "Entertainment News", "News Commentary",
		"Politics", "Sports News", "Tech News"},
	"Religion & Spirituality": {"Buddhism", "Christianity", "Hinduism", "Islam",
		"Judaism", "Religion", "Spirituality"},
	"Science": {"Astronomy", "Chemistry", "Earth Sciences", "Life Sciences",
		"Mathematics", "Natural Sciences", "Nature", "Physics", "Social Sciences"},
	"Society & Culture": {"Documentary", "Personal Journals", "Philosophy",
		"Places & Travel", "Relationships"},
	"Sports": {"Baseball", "Basketball", "Cricket", "Fantasy Sports", "Football",
		"Golf", "Hockey", "Rugby", "Running", "Soccer", "Swimming", "Tennis",
		"Volleyball", "Wilderness", "Wrestling"},
	"Technology": {},
	"True Crime": {},
	"TV & Film":  {"After Shows", "Film History", "Film Interviews", "Film Reviews", "TV Reviews"},
}

// canonical lookup tables built from the taxonomy, keyed by the
// normalized form of each name.
var (
	canonicalMains map[string]string
	canonicalSubs  map[string]map[string]string
)

func init() {
	canonicalMains = make(map[string]string, len(appleTaxonomy))
	canonicalSubs = make(map[string]map[string]string, len(appleTaxonomy))
	for main, subs := range appleTaxonomy {
		canonicalMains[normalizeCategory(main)] = main
		m := make(map[string]string, len(subs))
		for _, sub := range subs {
			m[normalizeCategory(sub)] = sub
		}
		canonicalSubs[main] = m
	}
}

// normalizeCategory prepares a name for lookup: unescape HTML entities,
// collapse whitespace, lowercase.
func normalizeCategory(s string) string {
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// ResolveCategory maps a (main, sub) pair onto the canonical taxonomy.
func ResolveCategory(main, sub string) (Category, error) {
	canonMain, ok := canonicalMains[normalizeCategory(main)]
	if !ok {
		return Category{}, fmt.Errorf("unknown category %q", main)
	}
	if sub == "" {
		return Category{Main: canonMain}, nil
	}
	canonSub, ok := canonicalSubs[canonMain][normalizeCategory(sub)]
	if !ok {
		return Category{}, fmt.Errorf("unknown subcategory %q under %q", sub, canonMain)
	}
	return Category{Main: canonMain, Sub: canonSub}, nil
}

// ParseCategoryString parses the flat config forms: a single "Main",
// a "Main > Sub", or a comma-separated list of those.
func ParseCategoryString(value string) ([]Category, error) {
	var out []Category
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		main, sub := part, ""
		if i := strings.Index(part, ">"); i >= 0 {
			main = strings.TrimSpace(part[:i])
			sub = strings.TrimSpace(part[i+1:])
		}
		cat, err := ResolveCategory(main, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return validateCategorySet(out)
}

// ParseCategories accepts every config shape: string, list of strings,
// and list of {main, sub} maps (the YAML structured form).
func ParseCategories(value any) ([]Category, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseCategoryString(v)
	case []any:
		var out []Category
		for _, elem := range v {
			switch e := elem.(type) {
			case string:
				cats, err := ParseCategoryString(e)
				if err != nil {
					return nil, err
				}
				out = append(out, cats...)
			case map[string]any:
				main, _ := e["main"].(string)
				sub, _ := e["sub"].(string)
				if main == "" {
					return nil, fmt.Errorf("category entry missing main")
				}
				cat, err := ResolveCategory(main, sub)
				if err != nil {
					return nil, err
				}
				out = append(out, cat)
			default:
				return nil, fmt.Errorf("unsupported category entry type %T", elem)
			}
		}
		return validateCategorySet(out)
	default:
		return nil, fmt.Errorf("unsupported category value type %T", value)
	}
}

func validateCategorySet(cats []Category) ([]Category, error) {
	if len(cats) > MaxCategories {
		return nil, fmt.Errorf("at most %d categories allowed, got %d", MaxCategories, len(cats))
	}
	return cats, nil
}

// FormatCategories renders the canonical comma-joined storage form.
func FormatCategories(cats []Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}
