package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	perms := Permissions{SuperuserGroup: "import-admin"}

	tests := []struct {
		name      string
		groups    []string
		permitted []string
		want      bool
	}{
		{"intersecting sets", []string{"a", "b"}, []string{"b", "c"}, true},
		{"disjoint sets", []string{"a"}, []string{"b"}, false},
		{"empty permitted set", []string{"a"}, nil, false},
		{"empty user groups", nil, []string{"a"}, false},
		{"both empty", nil, nil, false},
		{"superuser bypasses disjoint", []string{"import-admin"}, []string{"x"}, true},
		{"superuser bypasses empty permitted", []string{"import-admin"}, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, perms.Has(tc.groups, tc.permitted))
		})
	}
}

func TestHasAdminPermission(t *testing.T) {
	perms := Permissions{SuperuserGroup: "import-admin"}

	assert.True(t, perms.HasAdmin(User{ID: "root", Groups: []string{"import-admin"}}))
	assert.False(t, perms.HasAdmin(User{ID: "alice", Groups: []string{"p1"}}))
	assert.False(t, perms.HasAdmin(User{ID: "nobody"}))
}

func TestEmptySuperuserGroupNeverMatches(t *testing.T) {
	perms := Permissions{}
	assert.False(t, perms.IsSuperuser([]string{""}))
	assert.False(t, perms.HasAdmin(User{Groups: []string{""}}))
}
