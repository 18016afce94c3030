// SPDX-License-Identifier: MIT

package rss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCategoryNormalization(t *testing.T) {
	cat, err := ResolveCategory("  technology ", "")
	require.NoError(t, err)
	assert.Equal(t, "Technology", cat.Main)

	cat, err = ResolveCategory("health &amp; fitness", "mental health")
	require.NoError(t, err)
	assert.Equal(t, "Health & Fitness", cat.Main)
	assert.Equal(t, "Mental Health", cat.Sub)

	_, err = ResolveCategory("Podcasting", "")
	assert.Error(t, err)

	_, err = ResolveCategory("Technology", "Gadgets")
	assert.Error(t, err)
}

func TestParseCategoryString(t *testing.T) {
	cats, err := ParseCategoryString("News > Tech News, Technology")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, Category{Main: "News", Sub: "Tech News"}, cats[0])
	assert.Equal(t, Category{Main: "Technology"}, cats[1])

	_, err = ParseCategoryString("Arts, Comedy, Music")
	assert.Error(t, err, "more than two categories")
}

func TestParseCategoriesShapes(t *testing.T) {
	cats, err := ParseCategories("True Crime")
	require.NoError(t, err)
	assert.Equal(t, []Category{{Main: "True Crime"}}, cats)

	cats, err = ParseCategories([]any{"Sports > Soccer", "History"})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Soccer", cats[0].Sub)

	cats, err = ParseCategories([]any{
		map[string]any{"main": "Fiction", "sub": "Drama"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Category{{Main: "Fiction", Sub: "Drama"}}, cats)

	_, err = ParseCategories([]any{map[string]any{"sub": "Drama"}})
	assert.Error(t, err)

	_, err = ParseCategories(42)
	assert.Error(t, err)
}

func TestFormatCategories(t *testing.T) {
	s := FormatCategories([]Category{{Main: "News", Sub: "Politics"}, {Main: "History"}})
	assert.Equal(t, "News > Politics, History", s)
}
