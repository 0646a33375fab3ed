package crypt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var (
	testKey = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUV")
	testIV  = []byte("abcdefghijklmnop")
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x42}},
		{"one short of a block", bytes.Repeat([]byte("x"), 15)},
		{"exactly one block", bytes.Repeat([]byte("y"), 16)},
		{"one block plus one", bytes.Repeat([]byte("z"), 17)},
		{"binary", []byte{0, 1, 2, 0xff, 0x10, 0x10, 0x10}},
		{"text", []byte("line one\r\nline two\r\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Encrypt(tt.plaintext, testKey, testIV)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			got, err := Decrypt(sealed, testKey, testIV)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Fatalf("got %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestPaddingLength(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 16},
		{15, 16},
		{16, 32},
		{17, 32},
	}
	for _, tt := range tests {
		if got := len(pad(make([]byte, tt.in), 16)); got != tt.want {
			t.Errorf("pad(%d) = %d bytes, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWrongKey(t *testing.T) {
	plaintext := []byte("attack at dawn, bring snacks")
	sealed, err := Encrypt(plaintext, testKey, testIV)
	if err != nil {
		t.Fatal(err)
	}
	other := []byte("VUTSRQPONMLKJIHGFEDCBA9876543210")
	got, err := Decrypt(sealed, other, testIV)
	if err == nil && bytes.Equal(got, plaintext) {
		t.Fatal("wrong key recovered the plaintext")
	}
}

func TestDecryptCorrupt(t *testing.T) {
	tests := []struct {
		name       string
		ciphertext []byte
	}{
		{"not base64", []byte("***")},
		{"empty", []byte{}},
		{"not block aligned", []byte("QUJD")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.ciphertext, testKey, testIV)
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestBadKeyLength(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []byte("short"), testIV); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := Encrypt([]byte("x"), testKey, []byte("short")); err == nil {
		t.Fatal("expected error for short iv")
	}
}

func TestNewKeyMaterial(t *testing.T) {
	k, err := NewKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	if len(k.Key) != KeyLength || len(k.IV) != IVLength {
		t.Fatalf("lengths = %d/%d", len(k.Key), len(k.IV))
	}
	for _, c := range string(k.Key) + string(k.IV) {
		if !strings.ContainsRune(alphabet, c) {
			t.Fatalf("character %q outside the alphabet", c)
		}
	}

	k2, err := NewKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k.Key, k2.Key) {
		t.Fatal("two generated keys are equal")
	}
}

func TestKeyMaterialNil(t *testing.T) {
	var k *KeyMaterial
	p := []byte("plain")
	sealed, err := k.Seal(p)
	if err != nil || !bytes.Equal(sealed, p) {
		t.Fatalf("nil Seal = %q, %v", sealed, err)
	}
	opened, err := k.Open(p)
	if err != nil || !bytes.Equal(opened, p) {
		t.Fatalf("nil Open = %q, %v", opened, err)
	}
}
