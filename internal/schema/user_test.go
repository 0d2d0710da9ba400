package schema

import "testing"

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Bob", "bob"},
		{"  ME  ", "me"},
		{"already", "already"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeUsername(tt.in); got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{ID: "u1", Username: "bob", Role: RoleMember}, false},
		{"admin", User{ID: "u1", Username: "root", Role: RoleAdmin}, false},
		{"uppercase username", User{ID: "u1", Username: "Bob", Role: RoleMember}, true},
		{"missing id", User{Username: "bob", Role: RoleMember}, true},
		{"unknown role", User{ID: "u1", Username: "bob", Role: "owner"}, true},
		{"email as username", User{ID: "u1", Username: "bob@example.com", Role: RoleMember}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTeamInvite_Transitions(t *testing.T) {
	inv := TeamInvite{FromUserID: "a", ToUserID: "b", Status: InvitePending}

	if !inv.CanTransition(InviteAccepted) || !inv.CanTransition(InviteRejected) {
		t.Error("pending invite should accept both terminal transitions")
	}
	if inv.CanTransition(InvitePending) {
		t.Error("pending -> pending is not a transition")
	}

	inv.Status = InviteRejected
	if inv.CanTransition(InviteAccepted) {
		t.Error("rejected invite must never be revived")
	}

	if got := inv.Counterpart("a"); got != "b" {
		t.Errorf("Counterpart(a) = %q, want b", got)
	}
	if got := inv.Counterpart("b"); got != "a" {
		t.Errorf("Counterpart(b) = %q, want a", got)
	}
}
