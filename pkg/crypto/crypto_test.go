package crypto

import (
	"bytes"
	"regexp"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateCodeLengthAndDigits(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if !regexp.MustCompile(`^[0-9]+$`).MatchString(code) || len(code) != length {
			t.Fatalf("expected %d digits, got %q", length, code)
		}
	}
}

func TestGenerateCodeInvalidLength(t *testing.T) {
	if _, err := GenerateCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
	if _, err := GenerateCode(-3); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestGenerateCodeDeterministicWithFixedSource(t *testing.T) {
	orig := RandReader
	defer func() { RandReader = orig }()

	RandReader = bytes.NewReader([]byte{0, 1, 2, 3, 4, 5})
	code, err := GenerateCode(6)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if code != "012345" {
		t.Fatalf("expected 012345, got %q", code)
	}
}

func TestGenerateCodeRejectsBiasedBytes(t *testing.T) {
	orig := RandReader
	defer func() { RandReader = orig }()

	// 250..255 are rejected to keep digits uniform; 7 follows and is kept
	RandReader = bytes.NewReader([]byte{250, 255, 254, 7})
	code, err := GenerateCode(1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if code != "7" {
		t.Fatalf("expected 7, got %q", code)
	}
}

func TestHashCodeNeverPlaintext(t *testing.T) {
	hash, err := HashCode("483920", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hash == "483920" {
		t.Fatal("hash equals plaintext")
	}
}

func TestVerifyCode(t *testing.T) {
	hash, err := HashCode("483920", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !VerifyCode("483920", hash) {
		t.Fatal("expected matching code to verify")
	}
	if VerifyCode("000000", hash) {
		t.Fatal("expected mismatched code to fail")
	}

	otherHash, err := HashCode("000000", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if VerifyCode("483920", otherHash) {
		t.Fatal("expected code to fail against another code's hash")
	}
}

func TestHashCodeSaltedPerCall(t *testing.T) {
	first, err := HashCode("483920", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := HashCode("483920", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// Identical codes issued twice must not produce linkable digests
	if first == second {
		t.Fatal("expected per-call salt to differ")
	}
}
