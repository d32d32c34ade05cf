package crypto

import "fmt"

// DecryptionError is returned when a payload cannot be decrypted: malformed
// envelope, unsupported version or algorithm, or GCM authentication failure.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
