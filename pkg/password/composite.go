package password

// CompositeEncrypter pairs a primary and a secondary Hasher. Encrypt always
// uses the primary. Check tries the primary first; if the primary rejects
// but the secondary accepts, the password is valid but the stored hash is
// stale — callers (the user service's login flow) re-encrypt with the
// primary and persist the result (spec.md §4.4).
type CompositeEncrypter struct {
	Primary   Hasher
	Secondary Hasher
}

func NewCompositeEncrypter(primary, secondary Hasher) *CompositeEncrypter {
	return &CompositeEncrypter{Primary: primary, Secondary: secondary}
}

func (c *CompositeEncrypter) Encrypt(pw, userID string) (string, error) {
	return c.Primary.Encrypt(pw, userID)
}

func (c *CompositeEncrypter) Check(pw, hash, userID string) (Result, error) {
	result, err := c.Primary.Check(pw, hash, userID)
	if err != nil {
		return Invalid, err
	}
	if result == ValidCurrent {
		return ValidCurrent, nil
	}

	secResult, err := c.Secondary.Check(pw, hash, userID)
	if err != nil {
		return Invalid, err
	}
	if secResult == ValidCurrent {
		return ValidNeedUpdate, nil
	}
	return Invalid, nil
}
