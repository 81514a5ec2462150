package auth

import (
	"testing"

	"github.com/cratehost/cratehost/internal/db"
)

func TestPermPredicates(t *testing.T) {
	admin := Principal{User: &db.DBUser{Roles: "admin"}}
	owner := Principal{User: &db.DBUser{Roles: ""}}
	stranger := Principal{User: &db.DBUser{Roles: ""}}
	anon := Principal{}

	if !MayReadIndex(admin) || !MayReadIndex(owner) {
		t.Fatal("MayReadIndex: authenticated principals should pass")
	}
	if MayReadIndex(anon) {
		t.Fatal("MayReadIndex: anonymous should not pass")
	}

	if !MayPublish(owner, true) {
		t.Fatal("MayPublish: owner should pass")
	}
	if MayPublish(stranger, false) {
		t.Fatal("MayPublish: non-owner non-admin should not pass")
	}
	if !MayPublish(admin, false) {
		t.Fatal("MayPublish: admin should pass even without ownership")
	}

	readOnlyToken := Principal{User: &db.DBUser{Roles: ""}, Token: &db.DBToken{CanWrite: false}}
	if MayPublish(readOnlyToken, true) {
		t.Fatal("MayPublish: owner with a read-only token should not pass")
	}

	if !MayAdmin(admin) {
		t.Fatal("MayAdmin: admin user should pass")
	}
	if MayAdmin(owner) {
		t.Fatal("MayAdmin: non-admin user should not pass")
	}
	restrictedAdminToken := Principal{User: &db.DBUser{Roles: "admin"}, Token: &db.DBToken{CanAdmin: false}}
	if MayAdmin(restrictedAdminToken) {
		t.Fatal("MayAdmin: admin with a non-admin token should not pass")
	}
}
