// Package authz holds the role-based authorization rules. Every check is
// expressed through models.Role's single total order so the rules cannot
// drift between call sites.
package authz

import "zalupaspb/internal/models"

const (
	msgStaffOnly    = "Moderator or admin access required"
	msgAdminOnly    = "Admin access required"
	msgSelf         = "This action cannot target your own account"
	msgAdminTarget  = "Only an admin may act on an admin account"
	msgInviteRole   = "You may only issue invites for the user role"
	msgInviteNotOwn = "You can only revoke your own invites"
	msgUnknownRole  = "Unknown role"
)

func isSelf(actor, target *models.User) bool {
	return actor.ID == target.ID
}

// RequireRole fails unless actor is min or above.
func RequireRole(actor *models.User, min models.Role) error {
	if actor.Role.AtLeast(min) {
		return nil
	}
	if min == models.RoleAdmin {
		return models.NewForbiddenError(msgAdminOnly)
	}
	return models.NewForbiddenError(msgStaffOnly)
}

// CanAssignRole: admins only, never on themselves.
func CanAssignRole(actor, target *models.User, newRole models.Role) error {
	if !newRole.Valid() {
		return models.NewValidationError(msgUnknownRole)
	}
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	if isSelf(actor, target) {
		return models.NewForbiddenError(msgSelf)
	}
	return nil
}

// CanBan: moderators and admins; only admins may ban or unban an admin.
func CanBan(actor, target *models.User) error {
	if err := RequireRole(actor, models.RoleModerator); err != nil {
		return err
	}
	if isSelf(actor, target) {
		return models.NewForbiddenError(msgSelf)
	}
	if target.Role.AtLeast(models.RoleAdmin) && !actor.Role.AtLeast(models.RoleAdmin) {
		return models.NewForbiddenError(msgAdminTarget)
	}
	return nil
}

// CanResetPassword: admins only, including on other admins.
func CanResetPassword(actor, _ *models.User) error {
	return RequireRole(actor, models.RoleAdmin)
}

// CanDelete: admins only, never themselves.
func CanDelete(actor, target *models.User) error {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	if isSelf(actor, target) {
		return models.NewForbiddenError(msgSelf)
	}
	return nil
}

// CanIssueInviteRole: admins may issue any role; everyone else only user invites.
func CanIssueInviteRole(actor *models.User, role models.Role) error {
	if !role.Valid() {
		return models.NewValidationError(msgUnknownRole)
	}
	if role == models.RoleUser || actor.Role.AtLeast(models.RoleAdmin) {
		return nil
	}
	return models.NewForbiddenError(msgInviteRole)
}

// CanRevokeInvite: the creator, or any moderator or admin.
func CanRevokeInvite(actor *models.User, invite *models.Invite) error {
	if invite.CreatedByID == actor.ID || actor.Role.AtLeast(models.RoleModerator) {
		return nil
	}
	return models.NewForbiddenError(msgInviteNotOwn)
}

// CanManageKeys covers issuing, revoking and listing activation keys.
func CanManageKeys(actor *models.User) error {
	return RequireRole(actor, models.RoleModerator)
}

// CanViewAudit covers the audit log listing and live feed.
func CanViewAudit(actor *models.User) error {
	return RequireRole(actor, models.RoleModerator)
}

// CanListAccounts covers account listings and detail views.
func CanListAccounts(actor *models.User) error {
	return RequireRole(actor, models.RoleModerator)
}

// CanViewAllInvites covers the global invite listing.
func CanViewAllInvites(actor *models.User) error {
	return RequireRole(actor, models.RoleModerator)
}
