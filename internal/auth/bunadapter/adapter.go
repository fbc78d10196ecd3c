package bunadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/uptrace/bun"
)

// Derived from github.com/msales/casbin-bun-adapter, reduced to the
// auto-save surface (persist.Adapter + persist.BatchAdapter) and without a
// schema qualifier so the same table works on SQLite and Postgres.

// ruleWidth is the number of value columns stored per rule.
const ruleWidth = 6

// Adapter persists casbin rules through bun.
type Adapter struct {
	db *bun.DB
}

var (
	_ persist.Adapter      = (*Adapter)(nil)
	_ persist.BatchAdapter = (*Adapter)(nil)
)

// NewAdapter creates an Adapter over an existing connection.
// The policy_rules table is created by migrations.
func NewAdapter(db *bun.DB) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("bunadapter: nil database")
	}
	return &Adapter{db: db}, nil
}

// LoadPolicy loads every stored rule into the model.
func (a *Adapter) LoadPolicy(m model.Model) error {
	var rules []*Rule
	if err := a.db.NewSelect().Model(&rules).Order("ptype", "v0", "v1").Scan(context.Background()); err != nil {
		return fmt.Errorf("load policy rules: %w", err)
	}

	for _, r := range rules {
		line := r.line()
		if len(line) < 2 {
			continue
		}
		if err := persist.LoadPolicyArray(line, m); err != nil {
			return fmt.Errorf("load policy rule %s: %w", r, err)
		}
	}
	return nil
}

// SavePolicy replaces the stored rules with the model's rules.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []*Rule
	for _, sec := range []string{"p", "g"} {
		for ptype, assertion := range m[sec] {
			for _, values := range assertion.Policy {
				rules = append(rules, newRule(ptype, values))
			}
		}
	}

	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Rule)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("clear policy rules: %w", err)
		}
		return insertRules(ctx, tx, rules)
	})
}

// AddPolicy stores a single rule.
func (a *Adapter) AddPolicy(_ string, ptype string, values []string) error {
	return a.AddPolicies("", ptype, [][]string{values})
}

// AddPolicies stores several rules in one transaction.
func (a *Adapter) AddPolicies(_ string, ptype string, values [][]string) error {
	rules := make([]*Rule, 0, len(values))
	for _, v := range values {
		rules = append(rules, newRule(ptype, v))
	}
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		return insertRules(ctx, tx, rules)
	})
}

// RemovePolicy deletes a single rule.
func (a *Adapter) RemovePolicy(_ string, ptype string, values []string) error {
	return a.RemovePolicies("", ptype, [][]string{values})
}

// RemovePolicies deletes several rules in one transaction.
func (a *Adapter) RemovePolicies(_ string, ptype string, values [][]string) error {
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		for _, v := range values {
			r := newRule(ptype, v)
			q := tx.NewDelete().Model((*Rule)(nil)).Where("ptype = ?", ptype)
			for i, col := range r.values() {
				q = q.Where(fmt.Sprintf("v%d = ?", i), col)
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("remove policy rule %s: %w", r, err)
			}
		}
		return nil
	})
}

// RemoveFilteredPolicy deletes rules whose fields starting at fieldIndex
// match the non-empty fieldValues.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	if fieldIndex < 0 || fieldIndex+len(fieldValues) > ruleWidth {
		return fmt.Errorf("remove filtered policy: field range %d..%d out of bounds", fieldIndex, fieldIndex+len(fieldValues))
	}

	q := a.db.NewDelete().Model((*Rule)(nil)).Where("ptype = ?", ptype)
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		q = q.Where(fmt.Sprintf("v%d = ?", fieldIndex+i), v)
	}
	if _, err := q.Exec(context.Background()); err != nil {
		return fmt.Errorf("remove filtered policy: %w", err)
	}
	return nil
}

func insertRules(ctx context.Context, tx bun.Tx, rules []*Rule) error {
	for _, r := range rules {
		if _, err := tx.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert policy rule %s: %w", r, err)
		}
	}
	return nil
}

// Rule is one persisted casbin rule. All columns form the primary key.
type Rule struct {
	bun.BaseModel `bun:"table:policy_rules,alias:pr"`

	Ptype string `bun:"ptype,pk,type:varchar(16),notnull"` // 'p' (grant) or 'g' (role membership)
	V0    string `bun:"v0,pk,type:varchar(255)"`           // subject
	V1    string `bun:"v1,pk,type:varchar(255)"`           // policy OID or role subject
	V2    string `bun:"v2,pk,type:varchar(255)"`           // grant
	V3    string `bun:"v3,pk,type:varchar(255)"`
	V4    string `bun:"v4,pk,type:varchar(255)"`
	V5    string `bun:"v5,pk,type:varchar(255)"`
}

// NewRule builds a Rule; used by migrations to seed grants.
func NewRule(ptype string, values ...string) *Rule {
	return newRule(ptype, values)
}

func newRule(ptype string, values []string) *Rule {
	r := &Rule{Ptype: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i, v := range values {
		if i >= ruleWidth {
			break
		}
		*fields[i] = v
	}
	return r
}

// values returns the stored fields up to the last non-empty one.
func (r *Rule) values() []string {
	all := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	last := -1
	for i := len(all) - 1; i >= 0; i-- {
		if all[i] != "" {
			last = i
			break
		}
	}
	return all[:last+1]
}

// line returns the rule in casbin's array form: ptype followed by values.
func (r *Rule) line() []string {
	return append([]string{r.Ptype}, r.values()...)
}

func (r *Rule) String() string {
	return strings.Join(r.line(), ", ")
}
