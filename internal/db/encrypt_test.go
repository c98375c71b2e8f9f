package db

import "testing"

func TestInitEncryption(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantErr: false},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitEncryption(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("InitEncryption() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptedStringRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	if err := InitEncryption(key); err != nil {
		t.Fatalf("InitEncryption() error = %v", err)
	}

	tests := []string{
		"",
		"hunter2",
		"a fairly long password with spaces and punctuation!@#$%",
		"unicode: héllo wörld 日本語",
	}

	for _, plaintext := range tests {
		orig := EncryptedString(plaintext)

		stored, err := orig.Value()
		if err != nil {
			t.Fatalf("Value() error = %v", err)
		}

		if plaintext == "" {
			if stored != "" {
				t.Errorf("Value() for empty string = %v, want empty", stored)
			}
			continue
		}

		storedStr, ok := stored.(string)
		if !ok {
			t.Fatalf("Value() returned %T, want string", stored)
		}
		if storedStr == plaintext {
			t.Errorf("Value() returned plaintext unencrypted")
		}

		var roundTripped EncryptedString
		if err := roundTripped.Scan(storedStr); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if string(roundTripped) != plaintext {
			t.Errorf("round trip = %q, want %q", roundTripped, plaintext)
		}
	}
}

func TestEncryptedStringScanNil(t *testing.T) {
	var e EncryptedString = "leftover"
	if err := e.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if e != "" {
		t.Errorf("Scan(nil) = %q, want empty", e)
	}
}

func TestEncryptedStringNoncesDiffer(t *testing.T) {
	key := make([]byte, 32)
	if err := InitEncryption(key); err != nil {
		t.Fatalf("InitEncryption() error = %v", err)
	}

	e := EncryptedString("same plaintext every time")
	first, err := e.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	second, err := e.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if first == second {
		t.Errorf("two encryptions of the same plaintext produced identical ciphertext; nonce is not being randomized")
	}
}
