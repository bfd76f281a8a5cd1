package security

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt-hashes an account password at the default cost.
// Used on registration, password reset and GM bootstrap.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a stored hash against a login attempt.
func CheckPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
