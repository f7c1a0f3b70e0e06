package declarative

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"lakerun/internal/domain"
	"lakerun/internal/expr"
)

var validAggregationOps = map[string]bool{
	"count": true,
	"sum":   true,
	"min":   true,
	"max":   true,
	"avg":   true,
}

// Validate checks a pipeline definition for internal consistency. All errors
// here are fatal at definition time, before any run starts. Cycle detection
// is the resolver's job; this validates everything local to one table.
func Validate(def *domain.PipelineDefinition) error {
	if len(def.Tables) == 0 {
		return domain.ErrValidation("pipeline %q: no tables declared", def.Name)
	}

	if def.Schedule != "" {
		if _, err := cron.ParseStandard(def.Schedule); err != nil {
			return domain.ErrValidation("pipeline %q: invalid schedule %q: %v", def.Name, def.Schedule, err)
		}
	}

	zones := map[string]bool{}
	for _, z := range def.LandingZones {
		if z.Name == "" {
			return domain.ErrValidation("landing zone: name is required")
		}
		if zones[z.Name] {
			return domain.ErrValidation("duplicate landing zone %q", z.Name)
		}
		zones[z.Name] = true
		if z.Type != "dir" && z.Type != "s3" {
			return domain.ErrValidation("landing zone %q: unknown type %q", z.Name, z.Type)
		}
		if z.Format != "json" && z.Format != "csv" {
			return domain.ErrValidation("landing zone %q: unknown format %q", z.Name, z.Format)
		}
		if z.Type == "s3" && z.Bucket == "" {
			return domain.ErrValidation("landing zone %q: bucket is required for s3", z.Name)
		}
	}

	refs := map[string]bool{}
	for _, r := range def.References {
		if r.Name == "" {
			return domain.ErrValidation("reference: name is required")
		}
		if refs[r.Name] || zones[r.Name] {
			return domain.ErrValidation("duplicate source %q", r.Name)
		}
		refs[r.Name] = true
		if r.Format != "json" && r.Format != "csv" {
			return domain.ErrValidation("reference %q: unknown format %q", r.Name, r.Format)
		}
	}

	tables := map[string]*domain.TableSpec{}
	for i := range def.Tables {
		t := &def.Tables[i]
		if tables[t.Name] != nil {
			return domain.ErrValidation("duplicate table %q", t.Name)
		}
		tables[t.Name] = t
	}

	for i := range def.Tables {
		if err := validateTable(&def.Tables[i], tables, zones, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(t *domain.TableSpec, tables map[string]*domain.TableSpec, zones, refs map[string]bool) error {
	switch t.Kind {
	case domain.TableKindSource:
		if t.LandingZone == "" {
			return domain.ErrValidation("table %q: source tables require landing_zone", t.Name)
		}
		if !zones[t.LandingZone] {
			return &domain.UnknownDependencyError{Table: t.Name, Upstream: t.LandingZone}
		}
		if len(t.Inputs) > 0 {
			return domain.ErrValidation("table %q: source tables cannot declare inputs", t.Name)
		}
	case domain.TableKindFull:
		if t.Reference == "" {
			return domain.ErrValidation("table %q: full tables require reference", t.Name)
		}
		if !refs[t.Reference] {
			return &domain.UnknownDependencyError{Table: t.Name, Upstream: t.Reference}
		}
		if len(t.Inputs) > 0 {
			return domain.ErrValidation("table %q: full tables cannot declare inputs", t.Name)
		}
	case domain.TableKindIncremental, domain.TableKindAggregate:
		if len(t.Inputs) == 0 {
			return domain.ErrValidation("table %q: %s tables require inputs", t.Name, t.Kind)
		}
		for _, in := range t.Inputs {
			if tables[in] == nil {
				return &domain.UnknownDependencyError{Table: t.Name, Upstream: in}
			}
		}
	default:
		return domain.ErrValidation("table %q: unknown kind %q", t.Name, t.Kind)
	}

	if t.Join != nil {
		if err := validateJoin(t, tables); err != nil {
			return err
		}
	}

	if t.Kind == domain.TableKindAggregate {
		if len(t.Aggregations) == 0 {
			return domain.ErrValidation("table %q: aggregate tables require aggregations", t.Name)
		}
	} else if len(t.Aggregations) > 0 || len(t.GroupBy) > 0 {
		return domain.ErrValidation("table %q: only aggregate tables may declare group_by/aggregations", t.Name)
	}
	for _, a := range t.Aggregations {
		if !validAggregationOps[a.Op] {
			return domain.ErrValidation("table %q: unknown aggregation op %q", t.Name, a.Op)
		}
		if a.As == "" {
			return domain.ErrValidation("table %q: aggregation %q requires 'as'", t.Name, a.Op)
		}
		if a.Op != "count" && a.Column == "" {
			return domain.ErrValidation("table %q: aggregation %q requires a column", t.Name, a.Op)
		}
	}

	for _, c := range t.Columns {
		if c.Name == "" {
			return domain.ErrValidation("table %q: column name is required", t.Name)
		}
		if c.Expr != "" {
			if err := expr.Check(fmt.Sprintf("%s.%s", t.Name, c.Name), c.Expr); err != nil {
				return err
			}
		}
	}

	seen := map[string]bool{}
	for _, c := range t.Constraints {
		if c.Name == "" || c.Expr == "" {
			return domain.ErrValidation("table %q: expectations require name and expr", t.Name)
		}
		if seen[c.Name] {
			return domain.ErrValidation("table %q: duplicate expectation %q", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.OnViolation {
		case domain.PolicyWarn, domain.PolicyDrop, domain.PolicyFail:
		default:
			return domain.ErrValidation("table %q: expectation %q: unknown policy %q", t.Name, c.Name, c.OnViolation)
		}
		if err := expr.Check(c.Name, c.Expr); err != nil {
			return err
		}
	}

	return nil
}

func validateJoin(t *domain.TableSpec, tables map[string]*domain.TableSpec) error {
	j := t.Join
	if t.Kind != domain.TableKindIncremental {
		return domain.ErrValidation("table %q: only incremental tables may declare a join", t.Name)
	}
	if len(j.On) == 0 {
		return domain.ErrValidation("table %q: join requires 'on' columns", t.Name)
	}
	if j.Policy != domain.JoinLatest && j.Policy != domain.JoinFrozen {
		return domain.ErrValidation("table %q: unknown join policy %q", t.Name, j.Policy)
	}

	inInputs := func(name string) bool {
		for _, in := range t.Inputs {
			if in == name {
				return true
			}
		}
		return false
	}
	if !inInputs(j.Left) || !inInputs(j.Right) {
		return domain.ErrValidation("table %q: join sides must be declared inputs", t.Name)
	}
	left := tables[j.Left]
	if left == nil || !left.Incremental() {
		return domain.ErrValidation("table %q: join left side %q must be an incremental input", t.Name, j.Left)
	}
	right := tables[j.Right]
	if right == nil || right.Incremental() {
		return domain.ErrValidation("table %q: join right side %q must be a full-snapshot input", t.Name, j.Right)
	}
	return nil
}
