package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarryd/quarry/internal/domain"
)

func TestScraperFiltersMatch(t *testing.T) {
	scraper := domain.Scraper{
		Name:     "Amazon DE",
		Handler:  "dynamic",
		Schedule: domain.ScheduleEveryHour,
	}

	tests := []struct {
		name    string
		filters ScraperFilters
		want    bool
	}{
		{"zero filters match everything", ScraperFilters{}, true},
		{"name is case-insensitive substring", ScraperFilters{NameContains: "amazon"}, true},
		{"name mismatch", ScraperFilters{NameContains: "ebay"}, false},
		{"handler exact", ScraperFilters{Handler: "dynamic"}, true},
		{"handler mismatch", ScraperFilters{Handler: "static"}, false},
		{"schedule exact", ScraperFilters{Schedule: domain.ScheduleEveryHour}, true},
		{"schedule mismatch", ScraperFilters{Schedule: domain.ScheduleInactive}, false},
		{"all filters must pass", ScraperFilters{NameContains: "amazon", Handler: "static"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filters.Match(scraper))
		})
	}
}

func TestSortScrapers(t *testing.T) {
	scrapers := []domain.Scraper{
		{ID: "2", Name: "beta"},
		{ID: "1", Name: "alpha"},
		{ID: "0", Name: "beta"},
	}

	SortScrapers(scrapers)

	assert.Equal(t, "alpha", scrapers[0].Name)
	assert.Equal(t, "0", scrapers[1].ID, "ties break by id")
	assert.Equal(t, "2", scrapers[2].ID)
}
