package authguard

import (
	"testing"
	"time"
)

// RFC 4226 appendix D vectors, secret "12345678901234567890".
func TestHOTPReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	for counter, expected := range want {
		code, err := hotpCode(secret, int64(counter), 6, "SHA1")
		if err != nil {
			t.Fatalf("counter %d: %v", counter, err)
		}
		if code != expected {
			t.Errorf("counter %d: code = %s, want %s", counter, code, expected)
		}
	}
}

func TestVerifyCodeSkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	v := &totpVerifier{digits: 6, period: 30, skew: 1, algorithm: "SHA1"}
	now := time.Unix(3000, 0)

	for _, step := range []int64{-1, 0, 1} {
		code, err := hotpCode(secret, now.Unix()/30+step, 6, "SHA1")
		if err != nil {
			t.Fatalf("hotpCode: %v", err)
		}
		ok, err := v.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if !ok {
			t.Errorf("step %d rejected inside skew window", step)
		}
	}

	// Two steps out is beyond the skew window.
	code, err := hotpCode(secret, now.Unix()/30+2, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	ok, err := v.VerifyCode(secret, code, now)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if ok {
		t.Error("code two steps out accepted")
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	secret := []byte("12345678901234567890")
	v := &totpVerifier{digits: 6, period: 30, skew: 1, algorithm: "SHA1"}
	now := time.Unix(3000, 0)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef"} {
		ok, err := v.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("code %q: %v", code, err)
		}
		if ok {
			t.Errorf("malformed code %q accepted", code)
		}
	}
}

func TestVerifyCodeTrimsWhitespace(t *testing.T) {
	secret := []byte("12345678901234567890")
	v := &totpVerifier{digits: 6, period: 30, skew: 0, algorithm: "SHA1"}
	now := time.Unix(3000, 0)

	code, err := hotpCode(secret, now.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	ok, err := v.VerifyCode(secret, " "+code+" ", now)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !ok {
		t.Error("surrounding whitespace rejected")
	}
}

func TestVerifyCodeEmptySecret(t *testing.T) {
	v := &totpVerifier{digits: 6, period: 30, skew: 0, algorithm: "SHA1"}
	if _, err := v.VerifyCode(nil, "123456", time.Unix(3000, 0)); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestHOTPAlgorithms(t *testing.T) {
	secret := []byte("12345678901234567890")
	for _, algorithm := range []string{"SHA1", "SHA256", "SHA512"} {
		code, err := hotpCode(secret, 1, 6, algorithm)
		if err != nil {
			t.Fatalf("%s: %v", algorithm, err)
		}
		if len(code) != 6 || !isNumericString(code) {
			t.Errorf("%s: code = %q", algorithm, code)
		}
	}

	if _, err := hotpCode(secret, 1, 6, "MD5"); err == nil {
		t.Fatal("unsupported algorithm accepted")
	}
}
