package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/purchase_ledger/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TenantGuardPlugin scopes queries, updates and deletes on tables that carry a
// business_id column to the business id found in the statement context.
//
// Raw SQL is not rewritten; raw queries must filter on business_id themselves.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToTenant); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToTenant)
}

func scopeToTenant(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return
	}
	ctx := db.Statement.Context
	if isAdmin(ctx) {
		return
	}
	businessID, _ := ctx.Value(appctx.ContextKeyBusinessId).(string)
	if businessID == "" {
		return
	}
	if db.Statement.Schema.LookUpField("business_id") == nil {
		return
	}
	if whereMentionsBusinessID(db.Statement.Clauses["WHERE"]) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "business_id"},
				Value:  businessID,
			},
		},
	})
}

func isAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(appctx.ContextKeyIsAdmin).(bool)
	return ok && v
}

func whereMentionsBusinessID(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprMentionsBusinessID(e) {
			return true
		}
	}
	return false
}

func exprMentionsBusinessID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return isBusinessIDColumn(v.Column)
	case clause.IN:
		return isBusinessIDColumn(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprMentionsBusinessID(x) {
				return true
			}
		}
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	case clause.NamedExpr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	}
	return false
}

func isBusinessIDColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "business_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "business_id")
	}
	return false
}
