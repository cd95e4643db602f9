package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	valid := User{Username: "alice", Email: "alice@example.com", PasswordHash: "$argon2id$..."}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := map[string]User{
		"no username":    {Email: "a@example.com", PasswordHash: "h"},
		"short username": {Username: "ab", Email: "a@example.com", PasswordHash: "h"},
		"space username": {Username: "al ice", Email: "a@example.com", PasswordHash: "h"},
		"no email":       {Username: "alice", PasswordHash: "h"},
		"bad email":      {Username: "alice", Email: "alice@", PasswordHash: "h"},
		"no hash":        {Username: "alice", Email: "a@example.com"},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			if err := u.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}
