package subscription

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanSpec describes a paid plan and how processor prices map onto it.
type PlanSpec struct {
	ID        Plan            `yaml:"id"`
	Name      string          `yaml:"name"`
	Interval  BillingInterval `yaml:"interval"`
	TrialDays int             `yaml:"trial_days"`
	PriceIDs  []string        `yaml:"price_ids"`
}

// Catalog is the immutable set of paid plans.
type Catalog struct {
	plans   map[Plan]PlanSpec
	byPrice map[string]Plan
}

// NewCatalog validates specs and indexes them by plan and price id.
func NewCatalog(specs ...PlanSpec) (*Catalog, error) {
	c := &Catalog{
		plans:   make(map[Plan]PlanSpec, len(specs)),
		byPrice: make(map[string]Plan),
	}
	for _, s := range specs {
		if !s.ID.Paid() {
			return nil, fmt.Errorf("%w: plan %q is not a paid plan", ErrInvalidCatalog, s.ID)
		}
		if s.Interval != IntervalMonthly && s.Interval != IntervalAnnual {
			return nil, fmt.Errorf("%w: plan %q has interval %q", ErrInvalidCatalog, s.ID, s.Interval)
		}
		if s.TrialDays < 0 {
			return nil, fmt.Errorf("%w: plan %q has negative trial", ErrInvalidCatalog, s.ID)
		}
		if _, dup := c.plans[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, s.ID)
		}
		for _, price := range s.PriceIDs {
			if other, taken := c.byPrice[price]; taken {
				return nil, fmt.Errorf("%w: price %q used by %q and %q", ErrInvalidCatalog, price, other, s.ID)
			}
			c.byPrice[price] = s.ID
		}
		c.plans[s.ID] = s
	}
	return c, nil
}

// DefaultCatalog has a monthly and an annual plan without trials or price mappings.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(
		PlanSpec{ID: PlanMonthly, Name: "Monthly", Interval: IntervalMonthly},
		PlanSpec{ID: PlanAnnual, Name: "Annual", Interval: IntervalAnnual},
	)
	return c
}

// LoadCatalog reads a YAML document of the form:
//
//	plans:
//	  - id: monthly
//	    name: Explorer Monthly
//	    interval: monthly
//	    trial_days: 7
//	    price_ids: [pri_01h...]
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Plans []PlanSpec `yaml:"plans"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrInvalidCatalog)
	}
	return NewCatalog(doc.Plans...)
}

// LoadCatalogFile is LoadCatalog over a file path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Spec returns the PlanSpec of a paid plan.
func (c *Catalog) Spec(p Plan) (PlanSpec, bool) {
	s, ok := c.plans[p]
	return s, ok
}

// PlanForPrice maps a processor price id to a plan.
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// PeriodEnd returns the end of one billing cycle of p starting at from.
func (c *Catalog) PeriodEnd(p Plan, from time.Time) (time.Time, error) {
	s, ok := c.plans[p]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPlan, p)
	}
	if s.Interval == IntervalAnnual {
		return from.AddDate(1, 0, 0), nil
	}
	return from.AddDate(0, 1, 0), nil
}

// TrialEnd returns from plus the plan's trial, and false when the plan has none.
func (c *Catalog) TrialEnd(p Plan, from time.Time) (time.Time, bool) {
	s, ok := c.plans[p]
	if !ok || s.TrialDays == 0 {
		return time.Time{}, false
	}
	return from.AddDate(0, 0, s.TrialDays), true
}
