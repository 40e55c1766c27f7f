package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal plaintext")
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPassword("wrong password", hash) {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-hash") {
		t.Fatal("expected malformed hash to fail verification")
	}
}
