// Package l10n holds the localized long-form texts shown to users, such
// as the /help message.
package l10n

import (
	_ "embed"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	KeyHelp          = "help"
	KeyAnonymousInfo = "anonymous_info"
)

//go:embed messages.yaml
var messagesYAML []byte

// Catalog resolves a text by key for the best matching language. English
// is the fallback for any key a translation lacks.
type Catalog struct {
	matcher  language.Matcher
	tags     []language.Tag
	messages map[language.Tag]map[string]string
}

func Load() (*Catalog, error) {
	return Parse(messagesYAML)
}

func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	if _, ok := raw["en"]; !ok {
		return nil, fmt.Errorf("messages: missing default language \"en\"")
	}

	c := &Catalog{messages: make(map[language.Tag]map[string]string, len(raw))}
	c.tags = append(c.tags, language.English)
	for lang, texts := range raw {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("messages: language %q: %w", lang, err)
		}
		for key, text := range texts {
			texts[key] = strings.TrimRight(text, "\n")
		}
		if lang == "en" {
			tag = language.English
		} else {
			c.tags = append(c.tags, tag)
		}
		c.messages[tag] = texts
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

func (c *Catalog) Text(locale language.Tag, key string) string {
	_, i, _ := c.matcher.Match(locale)
	if text, ok := c.messages[c.tags[i]][key]; ok {
		return text
	}
	return c.messages[language.English][key]
}
