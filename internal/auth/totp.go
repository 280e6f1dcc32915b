package auth

import "github.com/pquerna/otp/totp"

// VerifyTOTP checks a one-time code against the shared secret. The secret is the standard base32 encoding used by
// authenticator apps.
func VerifyTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
