package security

import gonanoid "github.com/matoous/go-nanoid/v2"

const verificationTokenSize = 30

// MakeVerificationToken generates the one-time secret mailed to a
// fresh account. Presenting it back is what flips the account to
// verified.
func MakeVerificationToken() (string, error) {
	return gonanoid.New(verificationTokenSize)
}
