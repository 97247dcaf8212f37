package types

import (
	"fmt"
	"io"
	"log/slog"
)

const redacted = "***REDACTED***"

// SecretString holds a credential (database URL, Redis password, webhook
// token or signing key). Printing and serialization render it as
// ***REDACTED***. Call Unmask at the point of use.
type SecretString string

func (s SecretString) String() string { return redacted }

// Format covers verbs that bypass String, such as %q, %x and %#v.
func (s SecretString) Format(f fmt.State, verb rune) {
	if verb == 'q' || (verb == 'v' && f.Flag('#')) {
		_, _ = io.WriteString(f, `"`+redacted+`"`)
		return
	}
	_, _ = io.WriteString(f, redacted)
}

func (s SecretString) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }
func (s SecretString) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// LogValue keeps secrets out of slog attributes.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the plaintext.
func (s SecretString) Unmask() string { return string(s) }
