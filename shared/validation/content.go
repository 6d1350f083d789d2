package validation

import (
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

// Content normalizes and checks reply text. The client runs it before dispatch and
// the backend runs it again, so both sides agree on what gets stored.
type Content struct {
	maxLength int
	policy    *bluemonday.Policy
	validate  *validator.Validate
}

func NewContent(maxLength int) *Content {
	return &Content{
		maxLength: maxLength,
		policy:    bluemonday.StrictPolicy(),
		validate:  validator.New(),
	}
}

// Normalize strips markup and surrounding whitespace.
func (c *Content) Normalize(text string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(text)))
}

// Check returns the normalized text, or a *ValidationError for empty or over-length content.
func (c *Content) Check(text string) (string, error) {
	normalized := c.Normalize(text)
	if err := c.validate.Var(normalized, "required"); err != nil {
		return "", &internal_errors.ValidationError{Field: "content", Message: "content is empty"}
	}
	if err := c.validate.Var(normalized, fmt.Sprintf("max=%d", c.maxLength)); err != nil {
		return "", &internal_errors.ValidationError{Field: "content", Message: fmt.Sprintf("content exceeds %d characters", c.maxLength)}
	}
	return normalized, nil
}
