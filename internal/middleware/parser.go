package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RegexMatch is a single regular expression match with its named groups.
type RegexMatch struct {
	FullMatch string
	Groups    map[string]string
}

// Parser is a functional middleware: it has no pipeline hooks and only
// exposes parsing helpers to handlers via named middleware access.
type Parser struct{}

// NewParser creates the parser middleware.
func NewParser() *Parser {
	return &Parser{}
}

// Name implements scraper.Middleware.
func (m *Parser) Name() string {
	return "parser"
}

// Document parses HTML into a goquery document.
func (m *Parser) Document(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Select returns the text contents of every node matching the CSS selector.
func (m *Parser) Select(html, selector string) ([]string, error) {
	doc, err := m.Document(html)
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out, nil
}

// Attr returns the attribute value of every node matching the CSS selector
// that carries the attribute.
func (m *Parser) Attr(html, selector, attr string) ([]string, error) {
	doc, err := m.Document(html)
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			out = append(out, v)
		}
	})
	return out, nil
}

// Regex finds all matches of a case-insensitive multi-line pattern.
func (m *Parser) Regex(text, pattern string) ([]RegexMatch, error) {
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}

	names := re.SubexpNames()
	var out []RegexMatch
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		groups := make(map[string]string)
		for i, name := range names {
			if i == 0 || name == "" {
				continue
			}
			groups[name] = match[i]
		}
		out = append(out, RegexMatch{FullMatch: match[0], Groups: groups})
	}
	return out, nil
}
