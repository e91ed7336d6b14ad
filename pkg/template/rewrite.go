package template

import (
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
)

// bind checks that stmt is of the expected concrete type and still open for
// rewriting. Nothing is modified on failure.
func bind[T Statement](stmt Statement, want Kind, op string) (T, error) {
	var zero T
	s, ok := stmt.(T)
	if !ok || stmt.Kind() != want {
		telemetry.TemplateRewritesTotal.With(want.String(), "mismatch").Inc()
		return zero, mismatchErr(want, op)
	}
	if s.state().consumed {
		telemetry.TemplateRewritesTotal.With(want.String(), "consumed").Inc()
		return zero, consumedErr(want, op)
	}
	telemetry.TemplateRewritesTotal.With(want.String(), "ok").Inc()
	return s, nil
}

// UpdateAlterTableOwner sets the relation's schema and the new owner of every
// OWNER TO subcommand. Nil arguments are left untouched.
func UpdateAlterTableOwner(stmt Statement, schema, newOwner *string) error {
	s, err := bind[*AlterTableStmt](stmt, KindAlterTableOwner, "template.UpdateAlterTableOwner")
	if err != nil {
		return err
	}
	if schema != nil {
		s.Relation.Schema = *schema
	}
	if newOwner == nil {
		return nil
	}
	for i := range s.Cmds {
		if s.Cmds[i].Type == CmdChangeOwner {
			s.Cmds[i].NewOwner = Role(*newOwner)
		}
	}
	return nil
}

// UpdateCreateRole sets the role name and the last element of the ROLE and
// IN ROLE option lists.
func UpdateCreateRole(stmt Statement, role, member, addTo *string) error {
	s, err := bind[*CreateRoleStmt](stmt, KindCreateRole, "template.UpdateCreateRole")
	if err != nil {
		return err
	}
	if role != nil {
		s.Role = *role
	}
	if member == nil && addTo == nil {
		return nil
	}
	for i := range s.Options {
		opt := &s.Options[i]
		if len(opt.Roles) == 0 {
			continue
		}
		switch {
		case member != nil && opt.Name == OptRoleMembers:
			opt.Roles[len(opt.Roles)-1] = Role(*member)
		case addTo != nil && opt.Name == OptAddRoleTo:
			opt.Roles[len(opt.Roles)-1] = Role(*addTo)
		}
	}
	return nil
}

// UpdateAlterRole replaces the target role.
func UpdateAlterRole(stmt Statement, role *RoleSpec) error {
	s, err := bind[*AlterRoleStmt](stmt, KindAlterRole, "template.UpdateAlterRole")
	if err != nil {
		return err
	}
	if role != nil {
		s.Role = *role
	}
	return nil
}

// UpdateCreateSchema sets the schema name and the authorization role.
func UpdateCreateSchema(stmt Statement, schema, authRole *string) error {
	s, err := bind[*CreateSchemaStmt](stmt, KindCreateSchema, "template.UpdateCreateSchema")
	if err != nil {
		return err
	}
	if schema != nil {
		s.Schema = *schema
	}
	if authRole != nil {
		r := Role(*authRole)
		s.AuthRole = &r
	}
	return nil
}

// UpdateDropOwned replaces the role list. A nil list is left untouched.
func UpdateDropOwned(stmt Statement, roles []string) error {
	s, err := bind[*DropOwnedStmt](stmt, KindDropOwned, "template.UpdateDropOwned")
	if err != nil {
		return err
	}
	if roles != nil {
		s.Roles = roleSpecs(roles)
	}
	return nil
}

// UpdateDropRole patches the last role of the list. A leading RoleSentinel
// entry is removed first; if that leaves the list empty there is nothing to
// drop and the statement is left as is.
func UpdateDropRole(stmt Statement, role *string) error {
	s, err := bind[*DropRoleStmt](stmt, KindDropRole, "template.UpdateDropRole")
	if err != nil {
		return err
	}
	if role == nil || len(s.Roles) == 0 {
		return nil
	}
	if first := s.Roles[0]; first.Type == RoleName && first.Name == RoleSentinel {
		s.Roles = s.Roles[1:]
	}
	if len(s.Roles) == 0 {
		return nil
	}
	s.Roles[len(s.Roles)-1] = Role(*role)
	return nil
}

// UpdateDrop replaces the last dropped object with an unqualified name.
func UpdateDrop(stmt Statement, object *string) error {
	s, err := bind[*DropStmt](stmt, KindDrop, "template.UpdateDrop")
	if err != nil {
		return err
	}
	if object != nil && len(s.Objects) > 0 {
		s.Objects[len(s.Objects)-1] = RangeVar{Name: *object}
	}
	return nil
}

// UpdateGrant patches the last object and the last grantee. object replaces
// the whole object name; otherwise objSchema sets only its schema.
func UpdateGrant(stmt Statement, object, objSchema, grantee *string) error {
	s, err := bind[*GrantStmt](stmt, KindGrant, "template.UpdateGrant")
	if err != nil {
		return err
	}
	if n := len(s.Objects); n > 0 {
		switch {
		case object != nil:
			s.Objects[n-1] = RangeVar{Name: *object}
		case objSchema != nil:
			s.Objects[n-1].Schema = *objSchema
		}
	}
	if n := len(s.Grantees); grantee != nil && n > 0 {
		s.Grantees[n-1] = Role(*grantee)
	}
	return nil
}

// UpdateGrantRole replaces the granted and grantee role lists. Nil lists are
// left untouched.
func UpdateGrantRole(stmt Statement, granted, grantees []string) error {
	s, err := bind[*GrantRoleStmt](stmt, KindGrantRole, "template.UpdateGrantRole")
	if err != nil {
		return err
	}
	if granted != nil {
		s.Granted = roleSpecs(granted)
	}
	if grantees != nil {
		s.Grantees = roleSpecs(grantees)
	}
	return nil
}

// UpdateRename sets both the old and the new name.
func UpdateRename(stmt Statement, oldName, newName string) error {
	s, err := bind[*RenameStmt](stmt, KindRename, "template.UpdateRename")
	if err != nil {
		return err
	}
	s.SubName = oldName
	s.NewName = newName
	return nil
}

// UpdateView sets the view's schema.
func UpdateView(stmt Statement, schema *string) error {
	s, err := bind[*ViewStmt](stmt, KindAlterView, "template.UpdateView")
	if err != nil {
		return err
	}
	if schema != nil {
		s.View.Schema = *schema
	}
	return nil
}

func roleSpecs(names []string) []RoleSpec {
	specs := make([]RoleSpec, len(names))
	for i, n := range names {
		specs[i] = Role(n)
	}
	return specs
}
