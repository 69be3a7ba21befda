package resolve

import (
	"strings"

	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
)

// Credentials is the session data captured out-of-band by the auth
// collaborator. The core treats every field as an opaque string.
type Credentials struct {
	SToken       string
	ETime        string
	BearerToken  string
	CookieHeader string
	Courses      []string
}

// Validate fails fast with a MissingCredentialsError naming the first absent
// field.
func (c Credentials) Validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"stoken", c.SToken},
		{"etime", c.ETime},
		{"bearer token", c.BearerToken},
	}
	for _, check := range checks {
		if strings.TrimSpace(check.value) == "" {
			return &errpkg.MissingCredentialsError{Field: check.name}
		}
	}
	return nil
}
