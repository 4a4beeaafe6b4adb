package types

// SecretString holds a sensitive value (API secrets, connection strings) and
// redacts itself in logs and JSON output. Use Reveal() at the point of use.
type SecretString string

const redacted = "[REDACTED]"

// String implements fmt.Stringer with redaction.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalJSON redacts the value in any JSON serialization.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Reveal returns the underlying secret value.
func (s SecretString) Reveal() string {
	return string(s)
}
