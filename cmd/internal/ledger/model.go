package ledger

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
)

const (
	maxDescriptionLen = 500
	maxCategoryLen    = 64
)

// Transaction is one ledger entry. GroupID and CreatedByID never change after creation.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	GroupID     string          `json:"group_id"`
	CreatedByID string          `json:"created_by_id"`
	UpdatedByID *string         `json:"updated_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Filled at read time by the coordinator; stores never populate them.
	CreatedBy *identity.UserSummary `json:"created_by,omitempty"`
	UpdatedBy *identity.UserSummary `json:"updated_by,omitempty"`
}

// NewTransaction is the create request. Date defaults to the creation time.
type NewTransaction struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Date        *time.Time       `json:"date,omitempty"`
	GroupID     string           `json:"group_id"`
}

// Patch is a merge-patch over the mutable fields.
type Patch struct {
	Amount      Optional[decimal.Decimal] `json:"amount"`
	Description Optional[string]          `json:"description"`
	Category    Optional[string]          `json:"category"`
	Date        Optional[time.Time]       `json:"date"`

	// UpdatedBy is the acting user, when known. It is set by the transport, not decoded.
	UpdatedBy string `json:"-"`
}

// Empty reports whether no field is present.
func (p Patch) Empty() bool {
	return !p.Amount.Set && !p.Description.Set && !p.Category.Set && !p.Date.Set
}

// Apply merges p into t. Absent fields keep their value; identity fields are untouched.
func (p Patch) Apply(t Transaction, now time.Time) Transaction {
	if v, ok := p.Amount.Get(); ok {
		t.Amount = v
	}
	if v, ok := p.Description.Get(); ok {
		t.Description = strings.TrimSpace(v)
	}
	if v, ok := p.Category.Get(); ok {
		t.Category = strings.TrimSpace(v)
	}
	if v, ok := p.Date.Get(); ok {
		t.Date = v.UTC()
	}
	t.UpdatedByID = p.updatedBy()
	t.UpdatedAt = now
	return t
}

// updatedBy is nil for an anonymous patch, so the row never names a previous editor.
func (p Patch) updatedBy() *string {
	by := strings.TrimSpace(p.UpdatedBy)
	if by == "" {
		return nil
	}
	return &by
}

// patchColumn is one column a patch writes, with its value already normalized.
type patchColumn struct {
	name  string
	value any
}

// columns lists only the present fields, in a stable order, so stores can build a
// partial UPDATE.
func (p Patch) columns() []patchColumn {
	var out []patchColumn
	if v, ok := p.Amount.Get(); ok {
		out = append(out, patchColumn{"amount", v})
	}
	if v, ok := p.Description.Get(); ok {
		out = append(out, patchColumn{"description", strings.TrimSpace(v)})
	}
	if v, ok := p.Category.Get(); ok {
		out = append(out, patchColumn{"category", strings.TrimSpace(v)})
	}
	if v, ok := p.Date.Get(); ok {
		out = append(out, patchColumn{"occurred_at", v.UTC()})
	}
	return out
}

func (p Patch) validate(op string) error {
	if v, ok := p.Description.Get(); ok {
		if err := validateDescription(op, v); err != nil {
			return err
		}
	}
	if v, ok := p.Category.Get(); ok {
		if err := validateCategory(op, v); err != nil {
			return err
		}
	}
	if v, ok := p.Date.Get(); ok && v.IsZero() {
		return fault.Invalid(op, "date is invalid")
	}
	return nil
}

func (in NewTransaction) validate(op string) error {
	if in.Amount == nil {
		return fault.Invalid(op, "amount is required")
	}
	if strings.TrimSpace(in.GroupID) == "" {
		return fault.Invalid(op, "group_id is required")
	}
	if err := validateCategory(op, in.Category); err != nil {
		return err
	}
	if err := validateDescription(op, in.Description); err != nil {
		return err
	}
	if in.Date != nil && in.Date.IsZero() {
		return fault.Invalid(op, "date is invalid")
	}
	return nil
}

func validateCategory(op, c string) error {
	c = strings.TrimSpace(c)
	if c == "" {
		return fault.Invalid(op, "category is required")
	}
	if utf8.RuneCountInString(c) > maxCategoryLen {
		return fault.Invalid(op, "category too long")
	}
	return nil
}

func validateDescription(op, d string) error {
	if utf8.RuneCountInString(strings.TrimSpace(d)) > maxDescriptionLen {
		return fault.Invalid(op, "description too long")
	}
	return nil
}
