package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// patentFile is the on-disk patent format. Sections may be listed explicitly
// or given as the flat abstract/claims/description fields.
type patentFile struct {
	ID              string           `json:"id" yaml:"id"`
	Title           string           `json:"title" yaml:"title"`
	Sections        []domain.Section `json:"sections" yaml:"sections"`
	Abstract        string           `json:"abstract" yaml:"abstract"`
	Claims          string           `json:"claims" yaml:"claims"`
	Description     string           `json:"description" yaml:"description"`
	Class           string           `json:"cpc_class" yaml:"cpc_class"`
	PublicationDate string           `json:"publication_date" yaml:"publication_date"`
	Inventor        string           `json:"inventor" yaml:"inventor"`
	Assignee        string           `json:"assignee" yaml:"assignee"`
}

// Loader reads patents from .json, .yaml and .yml files.
type Loader struct{}

var _ port.DocumentLoader = Loader{}

func NewLoader() Loader {
	return Loader{}
}

func (Loader) Load(ctx context.Context, path string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}

	doc, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Decode parses one patent in the format named by ext (".json", ".yaml" or
// ".yml").
func Decode(data []byte, ext string) (domain.Document, error) {
	var (
		pf  patentFile
		err error
	)
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(data, &pf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &pf)
	default:
		return domain.Document{}, fmt.Errorf("unsupported file type %q: %w", ext, domain.ErrInvalidDocument)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidDocument)
	}
	return pf.document()
}

func (pf patentFile) document() (domain.Document, error) {
	doc := domain.Document{
		ID:       strings.TrimSpace(pf.ID),
		Title:    pf.Title,
		Sections: pf.Sections,
		Class:    pf.Class,
		Inventor: pf.Inventor,
		Assignee: pf.Assignee,
	}

	if len(doc.Sections) == 0 {
		for _, s := range []domain.Section{
			{Name: domain.SectionAbstract, Text: pf.Abstract},
			{Name: domain.SectionClaims, Text: pf.Claims},
			{Name: domain.SectionDescription, Text: pf.Description},
		} {
			if strings.TrimSpace(s.Text) != "" {
				doc.Sections = append(doc.Sections, s)
			}
		}
	}

	if pf.PublicationDate != "" {
		t, err := parseDate(pf.PublicationDate)
		if err != nil {
			return domain.Document{}, fmt.Errorf("publication_date %q: %w", pf.PublicationDate, domain.ErrInvalidDocument)
		}
		doc.PublicationDate = t
	}
	return doc, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date")
}
