package credential

import (
	"testing"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

func TestLookup_AliasPrecedence(t *testing.T) {
	fields := domain.Metadata{
		"api_token": "from-alias",
		"apiKey":    "canonical",
	}
	got, ok := Lookup(fields, FieldAPIKey)
	if !ok || got != "canonical" {
		t.Fatalf("Lookup()=%q,%t, want canonical", got, ok)
	}
}

func TestLookup_LabeledSpellings(t *testing.T) {
	fields := domain.Metadata{
		"API Key":  "k-123",
		"Base URL": "https://api.example.com",
		"Username": "svc-user",
	}
	if got, _ := Lookup(fields, FieldAPIKey); got != "k-123" {
		t.Fatalf("apiKey=%q, want k-123", got)
	}
	if got, _ := Lookup(fields, FieldURL); got != "https://api.example.com" {
		t.Fatalf("url=%q", got)
	}
	if got, _ := Lookup(fields, FieldUsername); got != "svc-user" {
		t.Fatalf("username=%q", got)
	}
}

func TestLookup_MissingField(t *testing.T) {
	if _, ok := Lookup(domain.Metadata{"unrelated": "x"}, FieldToken); ok {
		t.Fatalf("Lookup() should miss")
	}
	if _, ok := Lookup(nil, FieldToken); ok {
		t.Fatalf("Lookup(nil) should miss")
	}
}

func TestAuthMerge_EarlierSourceWins(t *testing.T) {
	base := Auth{URL: "https://primary", Username: "alice"}
	overlay := Auth{URL: "https://secondary", Username: "bob", Password: "s3cret"}

	merged := base.Merge(overlay)
	if merged.URL != "https://primary" {
		t.Fatalf("URL=%q, want primary to win", merged.URL)
	}
	if merged.Username != "alice" {
		t.Fatalf("Username=%q, want alice", merged.Username)
	}
	if merged.Password != "s3cret" {
		t.Fatalf("Password=%q, want filled from overlay", merged.Password)
	}
}

func TestAuthKind_Inference(t *testing.T) {
	cases := []struct {
		name string
		auth Auth
		want string
	}{
		{"declared basic", Auth{Type: "basic_auth"}, AuthTypeBasic},
		{"declared oauth2", Auth{Type: "oauth2"}, AuthTypeClientCredentials},
		{"inferred client credentials", Auth{TokenURL: "https://t", ClientID: "c", ClientSecret: "s"}, AuthTypeClientCredentials},
		{"inferred token", Auth{Token: "tok"}, AuthTypeToken},
		{"inferred api key", Auth{APIKey: "key"}, AuthTypeAPIKey},
		{"inferred basic", Auth{Username: "u", Password: "p"}, AuthTypeBasic},
		{"nothing", Auth{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.auth.Kind(); got != tc.want {
				t.Fatalf("Kind()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthHasSecret(t *testing.T) {
	if (Auth{URL: "https://x", Username: "u"}).HasSecret() {
		t.Fatalf("username alone is not a secret")
	}
	if !(Auth{Token: "tok"}).HasSecret() {
		t.Fatalf("token is a secret")
	}
}
