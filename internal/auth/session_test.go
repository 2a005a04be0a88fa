package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npratt/dashlink/internal/events"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"admin", RoleAdmin},
		{" Admin ", RoleAdmin},
		{"super_admin", RoleSuperAdmin},
		{"superadmin", RoleSuperAdmin},
		{"user", RoleUser},
		{"", RoleUser},
		{"root", RoleUser},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoleIsAdmin(t *testing.T) {
	if !RoleAdmin.IsAdmin() || !RoleSuperAdmin.IsAdmin() {
		t.Error("admin roles should be admin")
	}
	if RoleUser.IsAdmin() {
		t.Error("user should not be admin")
	}
}

func TestStoreSetNotifiesOnChange(t *testing.T) {
	router := events.NewRouter(10, nil)
	defer router.Close()
	telemetry := router.Subscribe()

	s := NewStore(Session{}, router)

	var seen []Session
	s.OnChange(func(sess Session) { seen = append(seen, sess) })

	admin := Session{Token: "t1", Role: RoleAdmin}
	if !s.Set(admin) {
		t.Error("first Set should report a change")
	}
	if s.Set(admin) {
		t.Error("identical Set should not report a change")
	}
	if !s.Clear() {
		t.Error("Clear should report a change")
	}

	want := []Session{admin, {}}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("listener calls mismatch (-want +got):\n%s", diff)
	}
	if s.Token() != "" {
		t.Errorf("Token() = %q after Clear", s.Token())
	}

	if n := len(telemetry); n != 2 {
		t.Errorf("auth.changed events = %d, want 2", n)
	}
}

func TestStoreUnsubscribe(t *testing.T) {
	s := NewStore(Session{}, nil)

	calls := 0
	off := s.OnChange(func(Session) { calls++ })
	s.Set(Session{Token: "a", Role: RoleAdmin})
	off()
	s.Set(Session{Token: "b", Role: RoleAdmin})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLoadSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"token":" abc ","role":"super_admin","user":{"name":"Dana"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	sess, err := LoadSessionFile(path)
	if err != nil {
		t.Fatalf("LoadSessionFile: %v", err)
	}
	if sess.Token != "abc" {
		t.Errorf("Token = %q", sess.Token)
	}
	if sess.Role != RoleSuperAdmin {
		t.Errorf("Role = %q", sess.Role)
	}
	if string(sess.User) != `{"name":"Dana"}` {
		t.Errorf("User = %s", sess.User)
	}
}

func TestLoadSessionFile_Errors(t *testing.T) {
	if _, err := LoadSessionFile(filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Errorf("missing file error = %v, want not-exist", err)
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSessionFile(path); err == nil {
		t.Error("expected parse error")
	}
}
