package questions

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"golang.org/x/text/language"

	"github.com/pavelanni/assessor/internal/model"
)

//go:embed catalog/*.json
var catalogFS embed.FS

// defaultLocale is the language the catalog files are written in.
const defaultLocale = "en"

type entry struct {
	model.TestDefinition
	Key          map[string]model.KeyEntry `json:"key,omitempty"`
	Translations map[string]translation    `json:"translations,omitempty"`

	matcher language.Matcher
	locales []string
}

type translation struct {
	Title     string                         `json:"title"`
	Questions map[string]questionTranslation `json:"questions,omitempty"`
}

type questionTranslation struct {
	Text        string            `json:"text"`
	Options     map[string]string `json:"options,omitempty"`
	Memorize    []string          `json:"memorize,omitempty"`
	MinLabel    string            `json:"min_label,omitempty"`
	MaxLabel    string            `json:"max_label,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
}

// Catalog holds the test definitions known to the server.
type Catalog struct {
	entries map[string]*entry
	order   []string
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		return nil, err
	}
	return LoadCatalog(sub)
}

// LoadCatalog reads every *.json file at the root of fsys as one test.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("catalog has no test definitions")
	}
	c := &Catalog{entries: make(map[string]*entry)}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		if _, dup := c.entries[e.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate test id %q", name, e.ID)
		}
		e.buildMatcher()
		c.entries[e.ID] = &e
		c.order = append(c.order, e.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func (e *entry) validate() error {
	if e.ID == "" {
		return fmt.Errorf("test id is required")
	}
	if e.Strategy == 0 {
		return fmt.Errorf("test %s: strategy is required", e.ID)
	}
	if e.Origin == "" {
		e.Origin = model.OriginStatic
	}
	switch e.Origin {
	case model.OriginBank:
		if e.BankKind == "" || e.BankCount <= 0 {
			return fmt.Errorf("test %s: bank tests need bank_kind and a positive bank_count", e.ID)
		}
	case model.OriginStatic:
		if len(e.Questions) == 0 {
			return fmt.Errorf("test %s: static tests need questions", e.ID)
		}
	default:
		return fmt.Errorf("test %s: unknown origin %q", e.ID, e.Origin)
	}
	if e.Strategy == model.StrategyTrait && len(e.Traits) == 0 {
		return fmt.Errorf("test %s: trait tests need trait axes", e.ID)
	}
	seen := make(map[string]bool, len(e.Questions))
	for _, q := range e.Questions {
		if q.ID == "" || seen[q.ID] {
			return fmt.Errorf("test %s: missing or duplicate question id %q", e.ID, q.ID)
		}
		seen[q.ID] = true
		if q.Type == model.QuestionRecall && (len(q.Memorize) == 0 || q.DisplaySeconds <= 0) {
			return fmt.Errorf("test %s: recall question %s needs items and display_seconds", e.ID, q.ID)
		}
		if q.Type == model.QuestionScale && (q.Scale == nil || q.Scale.Max <= q.Scale.Min) {
			return fmt.Errorf("test %s: scale question %s needs a valid range", e.ID, q.ID)
		}
	}
	for id := range e.Key {
		if !seen[id] {
			return fmt.Errorf("test %s: key references unknown question %s", e.ID, id)
		}
	}
	return nil
}

func (e *entry) buildMatcher() {
	tags := []language.Tag{language.Make(defaultLocale)}
	e.locales = []string{defaultLocale}
	for loc := range e.Translations {
		if loc == defaultLocale {
			continue
		}
		e.locales = append(e.locales, loc)
	}
	sort.Strings(e.locales[1:])
	for _, loc := range e.locales[1:] {
		tags = append(tags, language.Make(loc))
	}
	e.matcher = language.NewMatcher(tags)
}

// resolve maps a requested locale onto one this test is translated into.
func (e *entry) resolve(locale string) string {
	if locale == "" {
		return defaultLocale
	}
	_, idx, conf := e.matcher.Match(language.Make(locale))
	if conf == language.No {
		return defaultLocale
	}
	return e.locales[idx]
}

// List returns the catalog's tests without their questions, titles
// translated into locale where available.
func (c *Catalog) List(locale string) []model.TestDefinition {
	out := make([]model.TestDefinition, 0, len(c.order))
	for _, id := range c.order {
		def := c.entries[id].localized(locale)
		def.Questions = nil
		out = append(out, def)
	}
	return out
}

// Definition returns a test translated into locale.
func (c *Catalog) Definition(testID, locale string) (model.TestDefinition, error) {
	e, ok := c.entries[testID]
	if !ok {
		return model.TestDefinition{}, fmt.Errorf("test %q: %w", testID, model.ErrNotFound)
	}
	return e.localized(locale), nil
}

// key returns a fresh copy of a static test's answer key, or nil.
func (c *Catalog) key(testID, locale string) map[string]model.KeyEntry {
	e, ok := c.entries[testID]
	if !ok || len(e.Key) == 0 {
		return nil
	}
	tr := e.Translations[e.resolve(locale)]
	out := make(map[string]model.KeyEntry, len(e.Key))
	for id, k := range e.Key {
		if qt, ok := tr.Questions[id]; ok && qt.Explanation != "" {
			k.Explanation = qt.Explanation
		}
		out[id] = k
	}
	return out
}

func (e *entry) localized(locale string) model.TestDefinition {
	def := e.TestDefinition
	def.Categories = append([]string(nil), e.Categories...)
	def.Traits = append([]model.TraitAxis(nil), e.Traits...)
	def.Questions = make([]model.Question, len(e.Questions))
	for i, q := range e.Questions {
		q.Options = append([]model.Option(nil), q.Options...)
		q.Memorize = append([]string(nil), q.Memorize...)
		if q.Scale != nil {
			s := *q.Scale
			q.Scale = &s
		}
		def.Questions[i] = q
	}

	tr, ok := e.Translations[e.resolve(locale)]
	if !ok {
		return def
	}
	if tr.Title != "" {
		def.Title = tr.Title
	}
	for i := range def.Questions {
		q := &def.Questions[i]
		qt, ok := tr.Questions[q.ID]
		if !ok {
			continue
		}
		if qt.Text != "" {
			q.Text = qt.Text
		}
		for j := range q.Options {
			if label, ok := qt.Options[q.Options[j].Value]; ok {
				q.Options[j].Label = label
			}
		}
		if len(qt.Memorize) == len(q.Memorize) {
			copy(q.Memorize, qt.Memorize)
		}
		if q.Scale != nil {
			if qt.MinLabel != "" {
				q.Scale.MinLabel = qt.MinLabel
			}
			if qt.MaxLabel != "" {
				q.Scale.MaxLabel = qt.MaxLabel
			}
		}
	}
	return def
}
