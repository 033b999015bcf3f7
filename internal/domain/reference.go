/**
 * @description
 * Payment references round-tripped through the gateway in vnp_OrderInfo.
 *
 * The wire form is "actor|kind|objectID". It comes back from the gateway
 * as untrusted text, so ParseReference validates every part instead of
 * splitting blindly.
 */
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ReferenceKind names the local record a payment session settles.
type ReferenceKind string

const (
	KindStaffBilling    ReferenceKind = "StaffBilling"
	KindOrder           ReferenceKind = "Order"
	KindPremiumPurchase ReferenceKind = "PremiumPurchase"
)

const (
	referenceSeparator = "|"
	maxActorLength     = 64
)

// ErrMalformedReference is returned for reference strings that do not parse.
var ErrMalformedReference = errors.New("malformed payment reference")

var packageCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Reference ties a gateway session back to the actor and record it pays for.
type Reference struct {
	Actor    string
	Kind     ReferenceKind
	ObjectID string
}

// NewReference validates the parts and returns a Reference.
func NewReference(actor string, kind ReferenceKind, objectID string) (Reference, error) {
	ref := Reference{Actor: actor, Kind: kind, ObjectID: objectID}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

// Validate checks every part of the reference.
func (r Reference) Validate() error {
	if err := validateActor(r.Actor); err != nil {
		return err
	}

	switch r.Kind {
	case KindStaffBilling, KindOrder:
		id, err := uuid.Parse(r.ObjectID)
		if err != nil || id == uuid.Nil || id.String() != r.ObjectID {
			return fmt.Errorf("%w: %s id %q is not a canonical uuid", ErrMalformedReference, r.Kind, r.ObjectID)
		}
	case KindPremiumPurchase:
		if !packageCodePattern.MatchString(r.ObjectID) {
			return fmt.Errorf("%w: invalid package code %q", ErrMalformedReference, r.ObjectID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedReference, r.Kind)
	}
	return nil
}

func validateActor(actor string) error {
	if actor == "" {
		return fmt.Errorf("%w: empty actor", ErrMalformedReference)
	}
	if len(actor) > maxActorLength {
		return fmt.Errorf("%w: actor too long", ErrMalformedReference)
	}
	if strings.TrimSpace(actor) != actor {
		return fmt.Errorf("%w: actor has surrounding whitespace", ErrMalformedReference)
	}
	for _, r := range actor {
		if r == '|' || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: actor contains %q", ErrMalformedReference, r)
		}
	}
	return nil
}

// String encodes the reference for vnp_OrderInfo.
func (r Reference) String() string {
	return r.Actor + referenceSeparator + string(r.Kind) + referenceSeparator + r.ObjectID
}

// ParseReference decodes and validates a reference string.
func ParseReference(raw string) (Reference, error) {
	if strings.Count(raw, referenceSeparator) != 2 {
		return Reference{}, fmt.Errorf("%w: expected 3 parts", ErrMalformedReference)
	}
	parts := strings.SplitN(raw, referenceSeparator, 3)
	ref := Reference{Actor: parts[0], Kind: ReferenceKind(parts[1]), ObjectID: parts[2]}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}
