// Package adapters holds the reference observation sources: a JSONL inbox,
// an XLSX contact export and an HTTP observation feed. Every source decodes
// into a Record, which is validated here before it becomes a kin.Observation.
package adapters

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kin-go/internal/kin"
)

// Record is the wire form of one observation.
type Record struct {
	SourceType  string            `json:"source_type" validate:"required,source_type"`
	SourceID    string            `json:"source_id" validate:"required,max=512"`
	Name        string            `json:"name,omitempty" validate:"max=256"`
	Email       string            `json:"email,omitempty" validate:"max=320"`
	Phone       string            `json:"phone,omitempty" validate:"max=64"`
	ContextPath string            `json:"context_path,omitempty" validate:"max=1024"`
	ObservedAt  time.Time         `json:"observed_at" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty" validate:"omitempty,dive,keys,required,endkeys,max=4096"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("source_type", func(fl validator.FieldLevel) bool {
		return kin.SourceType(fl.Field().String()).IsKnown()
	}); err != nil {
		panic(err)
	}
	return v
}

// commonKeys are accepted on every source type.
var commonKeys = []string{kin.MetaTitle, kin.MetaSnippet, kin.MetaLink, kin.MetaGroupID}

// metadataKeys lists the extra keys each source type may carry.
var metadataKeys = map[kin.SourceType][]string{
	kin.SourceEmail:         {kin.MetaThreadID},
	kin.SourceCalendar:      {kin.MetaEventID},
	kin.SourceChat:          {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceSMS:           {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceIMessage:      {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceWhatsApp:      {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceSlack:         {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceCall:          {kin.MetaConversationID, kin.MetaChannel},
	kin.SourceContactExport: {kin.MetaCompany, kin.MetaCategory},
	kin.SourceLinkedIn:      {kin.MetaConnection, kin.MetaPeerEmail, kin.MetaCompany},
	kin.SourceSocial:        {kin.MetaConnection, kin.MetaPeerEmail, kin.MetaConversationID, kin.MetaChannel},
}

// AllowedMetadata reports whether key is part of the vocabulary of st.
func AllowedMetadata(st kin.SourceType, key string) bool {
	return slices.Contains(commonKeys, key) || slices.Contains(metadataKeys[st], key)
}

// Observation validates r and converts it. Metadata keys outside the source
// type's vocabulary are dropped and returned so the caller can log them.
func (r Record) Observation() (kin.Observation, []string, error) {
	r.SourceType = strings.TrimSpace(r.SourceType)
	r.SourceID = strings.TrimSpace(r.SourceID)
	if err := validate.Struct(r); err != nil {
		return kin.Observation{}, nil, inputError(err)
	}

	st := kin.SourceType(r.SourceType)
	var dropped []string
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		if !AllowedMetadata(st, k) {
			dropped = append(dropped, k)
			continue
		}
		if err := checkMetadataValue(k, v); err != nil {
			return kin.Observation{}, nil, err
		}
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	slices.Sort(dropped)

	return kin.Observation{
		SourceType:    st,
		SourceID:      r.SourceID,
		ObservedName:  strings.TrimSpace(r.Name),
		ObservedEmail: strings.TrimSpace(r.Email),
		ObservedPhone: strings.TrimSpace(r.Phone),
		ContextPath:   strings.Trim(strings.TrimSpace(r.ContextPath), "/"),
		ObservedAt:    r.ObservedAt.UTC(),
		Metadata:      meta,
	}, dropped, nil
}

func checkMetadataValue(key, value string) error {
	var ok bool
	switch key {
	case kin.MetaChannel:
		ok = value == "direct" || value == "group"
	case kin.MetaConnection:
		ok = value == "true" || value == "false"
	case kin.MetaCategory:
		ok = kin.ParseCategory(value) != kin.CategoryUnknown || value == string(kin.CategoryUnknown)
	case kin.MetaPeerEmail:
		ok = validate.Var(value, "email") == nil
	default:
		return nil
	}
	if !ok {
		return &kin.InputError{Field: "metadata." + key, Value: value, Reason: "not an allowed value"}
	}
	return nil
}

// inputError reports the first failed field as a *kin.InputError.
func inputError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating record: %w", err)
	}
	fe := verrs[0]
	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	if fe.Tag() == "source_type" {
		reason = "unknown source type"
	}
	return &kin.InputError{Field: fe.Field(), Value: fmt.Sprint(fe.Value()), Reason: reason}
}
