package etl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BartekS5/bulkmigrate/pkg/models"
)

var errMissingID = errors.New("missing document identifier")

// Validator rejects documents the sink could never accept, before they are sent.
type Validator struct {
	// MaxIDBytes limits identifier length; 0 means unlimited.
	MaxIDBytes int
}

func NewValidator(maxIDBytes int) *Validator {
	return &Validator{MaxIDBytes: maxIDBytes}
}

// ValidateDocument checks the document has a usable identifier.
func (v *Validator) ValidateDocument(doc *models.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return errMissingID
	}
	if v != nil && v.MaxIDBytes > 0 && len(doc.ID) > v.MaxIDBytes {
		return fmt.Errorf("document identifier is %d bytes, limit is %d", len(doc.ID), v.MaxIDBytes)
	}
	return nil
}
