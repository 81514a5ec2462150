package auth

import "github.com/cratehost/cratehost/internal/db"

// Principal is whichever of the two auth modes (C3) resolved the request:
// a logged-in user (session or Basic), a user-scoped token, or a global
// token (User.ID == 0, Token.UserID == 0). Exactly one of User/Token needs
// to be set for a principal to be meaningful; both nil means anonymous.
type Principal struct {
	User  *db.DBUser
	Token *db.DBToken
}

func (p Principal) isAdmin() bool {
	return p.User != nil && p.User.IsAdmin()
}

func (p Principal) canWrite() bool {
	return p.Token == nil || p.Token.CanWrite
}

func (p Principal) canAdminToken() bool {
	return p.Token == nil || p.Token.CanAdmin
}

// MayReadIndex reports whether p may read the index/crate data: any
// authenticated principal (spec.md §4.3).
func MayReadIndex(p Principal) bool {
	return p.User != nil || p.Token != nil
}

// MayPublish reports whether p may publish/yank a version of pkg: owner or
// admin, and the token (if any) carries CanWrite.
func MayPublish(p Principal, isOwner bool) bool {
	if !p.canWrite() {
		return false
	}
	return isOwner || p.isAdmin()
}

// MayAdmin reports whether p may perform instance-wide admin operations:
// admin role, and the token (if any) carries CanAdmin.
func MayAdmin(p Principal) bool {
	return p.isAdmin() && p.canAdminToken()
}

// MayManageOwners reports whether p may add/remove owners of pkg: owner or
// admin, and the token (if any) carries CanAdmin.
func MayManageOwners(p Principal, isOwner bool) bool {
	if !p.canAdminToken() {
		return false
	}
	return isOwner || p.isAdmin()
}
