package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("caption_src", validateCaptionSrc)
	_ = validate.RegisterValidation("video_type", validateVideoType)
}

// ValidateStruct runs the registered tag validators against a request struct.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// validateCaptionSrc accepts an empty value, an absolute http(s) URL, or a
// server-relative path. Anything else (other schemes, schemeless host-only
// strings) is rejected before it reaches the fetch layer.
func validateCaptionSrc(fl validator.FieldLevel) bool {
	src := strings.TrimSpace(fl.Field().String())
	if src == "" {
		return true
	}

	if strings.HasPrefix(src, "/") {
		return !strings.Contains(src, "\\")
	}

	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// validateVideoType restricts the stream format selector to the renditions
// the streaming endpoint serves.
func validateVideoType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "hd", "sd", "audio":
		return true
	default:
		return false
	}
}
