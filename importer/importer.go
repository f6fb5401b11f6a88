// Package importer validates catalog content and publishes it: new template
// versions are appended copy-on-write and overlays are replaced by key. The
// resolver cache is invalidated for every template code touched.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/liamcoop/docforge/catalog"
	"github.com/liamcoop/docforge/conditions"
	"github.com/liamcoop/docforge/internal/logger"
)

var (
	// ErrVersionConflict is returned when a published version is re-imported
	// with different content.
	ErrVersionConflict = errors.New("template version already published with different content")

	// ErrVersionNotIncreasing is returned when an import would publish a
	// version lower than the active one.
	ErrVersionNotIncreasing = errors.New("template version must increase")
)

// Store is the catalog read and write side the importer needs.
type Store interface {
	catalog.Store
	catalog.Publisher
}

// Invalidator drops cached resolutions of a template code.
type Invalidator interface {
	Invalidate(ctx context.Context, code string) error
}

// Report summarises one import.
type Report struct {
	Published []string `json:"published"`
	Unchanged []string `json:"unchanged"`
	Overlays  int      `json:"overlays"`
}

// Importer publishes catalog bundles.
type Importer struct {
	store       Store
	conds       *conditions.Engine
	invalidator Invalidator
}

// New creates an importer. invalidator may be nil.
func New(store Store, conds *conditions.Engine, invalidator Invalidator) *Importer {
	return &Importer{store: store, conds: conds, invalidator: invalidator}
}

// Validate checks a bundle on its own: every overlay must target a template
// in the same bundle. Used by linting, where no store is available.
func Validate(bundle *catalog.Bundle, conds *conditions.Engine) error {
	templates, err := validateTemplates(bundle, conds)
	if err != nil {
		return err
	}
	for _, o := range bundle.Overlays {
		if err := ValidateOverlay(o, templates[o.TemplateCode], conds); err != nil {
			return err
		}
	}
	return nil
}

// Import validates the whole bundle and only then publishes it. Overlays
// targeting templates outside the bundle are checked against the active
// version in the store.
func (im *Importer) Import(ctx context.Context, bundle *catalog.Bundle) (*Report, error) {
	templates, err := validateTemplates(bundle, im.conds)
	if err != nil {
		return nil, err
	}
	for _, o := range bundle.Overlays {
		target := templates[o.TemplateCode]
		if target == nil {
			target, err = im.store.GetTemplate(ctx, o.TemplateCode)
			if err != nil && !errors.Is(err, catalog.ErrTemplateNotFound) {
				return nil, fmt.Errorf("load template %s for overlay: %w", o.TemplateCode, err)
			}
		}
		if err := ValidateOverlay(o, target, im.conds); err != nil {
			return nil, err
		}
	}

	report := &Report{}
	touched := map[string]bool{}

	for _, t := range bundle.Templates {
		published, err := im.publish(ctx, t)
		if err != nil {
			return report, err
		}
		label := t.Code + "@" + t.Version
		if published {
			report.Published = append(report.Published, label)
			touched[t.Code] = true
		} else {
			report.Unchanged = append(report.Unchanged, label)
		}
	}

	for _, o := range bundle.Overlays {
		if err := im.store.PutOverlay(ctx, o); err != nil {
			return report, fmt.Errorf("put overlay %s/%s/%s: %w", o.TemplateCode, o.Jurisdiction, o.Language, err)
		}
		report.Overlays++
		touched[o.TemplateCode] = true
	}

	codes := make([]string, 0, len(touched))
	for code := range touched {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if im.invalidator != nil {
		for _, code := range codes {
			if err := im.invalidator.Invalidate(ctx, code); err != nil {
				return report, fmt.Errorf("invalidate %s: %w", code, err)
			}
		}
	}

	logger.CatalogImports.Add(1)
	logger.Info("catalog imported",
		"published", len(report.Published),
		"unchanged", len(report.Unchanged),
		"overlays", report.Overlays,
	)
	return report, nil
}

// publish stores t when its version is newer than the active one. Importing
// the active version again is a no-op if the content is identical.
func (im *Importer) publish(ctx context.Context, t *catalog.Template) (bool, error) {
	next := semver.MustParse(t.Version)

	active, err := im.store.GetTemplate(ctx, t.Code)
	switch {
	case errors.Is(err, catalog.ErrTemplateNotFound):
	case err != nil:
		return false, fmt.Errorf("load active %s: %w", t.Code, err)
	default:
		current, perr := semver.NewVersion(active.Version)
		if perr != nil {
			return false, fmt.Errorf("active %s has invalid version %q: %w", t.Code, active.Version, perr)
		}
		switch next.Compare(current) {
		case 0:
			same, err := sameContent(t, active)
			if err != nil {
				return false, err
			}
			if !same {
				return false, fmt.Errorf("%w: %s@%s", ErrVersionConflict, t.Code, t.Version)
			}
			return false, nil
		case -1:
			return false, fmt.Errorf("%w: %s@%s is older than active %s", ErrVersionNotIncreasing, t.Code, t.Version, active.Version)
		}
	}

	if err := im.store.PublishTemplate(ctx, t); err != nil {
		return false, fmt.Errorf("publish %s@%s: %w", t.Code, t.Version, err)
	}
	logger.Info("template published", "template", t.Code, "version", t.Version)
	return true, nil
}

func validateTemplates(bundle *catalog.Bundle, conds *conditions.Engine) (map[string]*catalog.Template, error) {
	templates := make(map[string]*catalog.Template, len(bundle.Templates))
	for _, t := range bundle.Templates {
		if err := ValidateTemplate(t, conds); err != nil {
			return nil, err
		}
		if _, dup := templates[t.Code]; dup {
			return nil, invalid("template %s appears twice in the bundle", t.Code)
		}
		templates[t.Code] = t
	}
	return templates, nil
}

// sameContent compares the JSON forms, which normalise numeric types between
// file and database sources.
func sameContent(a, b *catalog.Template) (bool, error) {
	ja, err := canonical(a)
	if err != nil {
		return false, err
	}
	jb, err := canonical(b)
	if err != nil {
		return false, err
	}
	return string(ja) == string(jb), nil
}

func canonical(t *catalog.Template) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode template %s: %w", t.Code, err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
