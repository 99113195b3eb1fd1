package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rosterd/rosterd/pkg/observability"
)

type seedGrant struct {
	role     Role
	category Category
	action   Action
	desc     string
}

func grants(role Role, category Category, desc string, actions ...Action) []seedGrant {
	out := make([]seedGrant, 0, len(actions))
	for _, a := range actions {
		out = append(out, seedGrant{role: role, category: category, action: a, desc: desc})
	}
	return out
}

func defaultGrants() []seedGrant {
	var out []seedGrant

	// CEO holds manage on every category plus read on the reporting surfaces.
	for _, c := range AllCategories() {
		out = append(out, seedGrant{RoleCEO, c, ActionManage, "Executive oversight"})
	}
	out = append(out, grants(RoleCEO, CategoryAnalytics, "Executive oversight", ActionRead)...)
	out = append(out, grants(RoleCEO, CategoryAudit, "Executive oversight", ActionRead)...)

	out = append(out, grants(RoleContentManager, CategoryContent, "Content ownership", ActionManage)...)
	out = append(out, grants(RoleContentManager, CategoryPages, "Content ownership", ActionManage)...)
	out = append(out, grants(RoleContentManager, CategoryFiles, "Content ownership", ActionManage)...)
	out = append(out, grants(RoleContentManager, CategoryApplications, "Content review", ActionRead)...)
	out = append(out, grants(RoleContentManager, CategoryProjects, "Content review", ActionRead)...)

	out = append(out, grants(RoleFinanceManager, CategoryPricing, "Finance ownership", ActionManage)...)
	out = append(out, grants(RoleFinanceManager, CategoryPayments, "Finance ownership", ActionManage)...)
	out = append(out, grants(RoleFinanceManager, CategoryAnalytics, "Finance reporting", ActionRead)...)
	out = append(out, grants(RoleFinanceManager, CategoryDepartments, "Finance reporting", ActionRead)...)

	out = append(out, grants(RoleHR, CategoryUsers, "People operations", ActionCreate, ActionRead, ActionUpdate)...)
	out = append(out, grants(RoleHR, CategoryRoles, "People operations", ActionCreate, ActionUpdate)...)
	out = append(out, grants(RoleHR, CategoryApplications, "People operations", ActionManage)...)
	out = append(out, grants(RoleHR, CategoryDepartments, "People operations", ActionRead)...)
	out = append(out, grants(RoleHR, CategoryFiles, "People operations", ActionRead)...)

	out = append(out, grants(RoleHOD, CategoryUsers, "Department leadership", ActionRead)...)
	out = append(out, grants(RoleHOD, CategoryProjects, "Department leadership", ActionManage)...)
	out = append(out, grants(RoleHOD, CategoryDepartments, "Department leadership", ActionUpdate)...)
	out = append(out, grants(RoleHOD, CategoryApplications, "Department leadership", ActionRead)...)
	out = append(out, grants(RoleHOD, CategoryFiles, "Department leadership", ActionManage)...)

	out = append(out, grants(RoleProjectManager, CategoryProjects, "Project delivery", ActionManage)...)
	out = append(out, grants(RoleProjectManager, CategoryFiles, "Project delivery", ActionManage)...)
	out = append(out, grants(RoleProjectManager, CategoryUsers, "Project staffing", ActionRead)...)

	// Every management role can read the audit trail; export stays with
	// the CEO and auditors.
	for _, r := range []Role{RoleContentManager, RoleFinanceManager, RoleHR, RoleHOD, RoleProjectManager} {
		out = append(out, grants(r, CategoryAudit, "Management reporting", ActionRead)...)
	}

	out = append(out, grants(RoleAuditor, CategoryAudit, "Compliance review", ActionRead, ActionExport)...)
	out = append(out, grants(RoleAuditor, CategoryAnalytics, "Compliance review", ActionRead)...)
	out = append(out, grants(RoleAuditor, CategoryUsers, "Compliance review", ActionRead)...)
	out = append(out, grants(RoleAuditor, CategoryDepartments, "Compliance review", ActionRead)...)
	out = append(out, grants(RoleAuditor, CategoryPayments, "Compliance review", ActionRead)...)

	out = append(out, grants(RoleEmployee, CategoryProjects, "Staff access", ActionRead)...)
	out = append(out, grants(RoleEmployee, CategoryFiles, "Staff access", ActionRead)...)
	out = append(out, grants(RoleEmployee, CategoryContent, "Staff access", ActionRead)...)

	out = append(out, grants(RoleIntern, CategoryProjects, "Intern access", ActionRead)...)
	out = append(out, grants(RoleIntern, CategoryFiles, "Intern access", ActionRead)...)

	out = append(out, grants(RoleStudent, CategoryContent, "Student access", ActionRead)...)
	out = append(out, grants(RoleStudent, CategoryApplications, "Student access", ActionCreate)...)

	out = append(out, grants(RoleClient, CategoryProjects, "Client visibility", ActionRead)...)
	out = append(out, grants(RoleClient, CategoryPayments, "Client visibility", ActionRead)...)

	out = append(out, grants(RoleResearchCollaborator, CategoryContent, "Research collaboration", ActionCreate, ActionRead)...)
	out = append(out, grants(RoleResearchCollaborator, CategoryFiles, "Research collaboration", ActionManage)...)

	out = append(out, grants(RoleUser, CategoryContent, "Baseline access", ActionRead)...)
	out = append(out, grants(RoleUser, CategoryApplications, "Baseline access", ActionCreate)...)

	return out
}

// SeedPermissions inserts the default permission catalog. Existing grants
// are left untouched so operator customizations survive restarts.
func SeedPermissions(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	seeded := 0
	for _, g := range defaultGrants() {
		res, err := db.ExecContext(ctx, `
			INSERT INTO permissions (role, category, action, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (role, category, action, COALESCE(resource, '')) DO NOTHING
		`, string(g.role), string(g.category), string(g.action), g.desc)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s %s:%s: %w", g.role, g.category, g.action, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seeded++
		}
	}
	if seeded > 0 {
		logger.WithField("count", seeded).Info("seeded default permissions")
	}
	return nil
}
