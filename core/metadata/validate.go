package metadata

import (
	"errors"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Validate reports every resolution, structural and capability problem of a
// model against the target dialect. The returned error joins all problems;
// use errors.As to look for *ResolutionError or *dialect.CapabilityError.
func Validate(model *schema.Model, d dialect.Dialect) error {
	var errs []error

	_, issues := schema.NewValidator(model).Validate()
	for _, issue := range issues {
		if issue.Code == schema.IssueMissingPrimaryColumn {
			errs = append(errs, &ResolutionError{Table: issue.Path, Reason: "a non-junction table needs at least one primary column"})
			continue
		}
		errs = append(errs, issue)
	}

	caps := d.Capabilities()
	unsupported := func(t *schema.TableSpec, feature, object string) {
		errs = append(errs, &dialect.CapabilityError{Dialect: d.Name(), Feature: feature, Table: t.Path(), Object: object})
	}
	for _, t := range model.Tables {
		if t.Kind == schema.TableKindEntityChild {
			continue
		}
		if !caps.CheckConstraints {
			for _, c := range t.Checks {
				unsupported(t, "check constraints", c.Name)
			}
		}
		if !caps.ExclusionConstraints {
			for _, x := range t.Exclusions {
				unsupported(t, "exclusion constraints", x.Name)
			}
		}
		for _, i := range t.Indices {
			if i.Fulltext && !caps.FulltextColumns {
				unsupported(t, "fulltext indices", i.Name)
			}
			if i.Spatial && !caps.SpatialColumns {
				unsupported(t, "spatial indices", i.Name)
			}
		}
		for _, c := range t.Columns {
			if c.Array && !caps.ArrayColumns {
				unsupported(t, "array columns", c.Name)
			}
			if c.SpatialFeatureType != "" && !caps.SpatialColumns {
				unsupported(t, "spatial columns", c.Name)
			}
		}
	}

	return errors.Join(errs...)
}
