package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v83"
)

const maxChainDepth = 8

// ErrorDump flattens an error chain into log-friendly fields, surfacing the
// database and provider details buried in it.
type ErrorDump struct {
	TopMessage string
	Code       Code
	Chain      []string

	PGCode       string
	PGConstraint string
	PGMessage    string

	ProviderStatus    int
	ProviderCode      string
	ProviderRequestID string
}

// Dump walks err's chain.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil && len(d.Chain) < maxChainDepth; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGMessage = pqErr.Message
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		d.ProviderStatus = stripeErr.HTTPStatusCode
		d.ProviderCode = string(stripeErr.Code)
		d.ProviderRequestID = stripeErr.RequestID
	}
	return d
}

// Fields returns the non-empty parts of the dump as structured log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 0 {
		fields["error_chain"] = d.Chain
	}
	if d.PGCode != "" {
		fields["pg_code"] = d.PGCode
		fields["pg_constraint"] = d.PGConstraint
		fields["pg_message"] = d.PGMessage
	}
	if d.ProviderStatus != 0 {
		fields["provider_status"] = d.ProviderStatus
		fields["provider_code"] = d.ProviderCode
		fields["provider_request_id"] = d.ProviderRequestID
	}
	return fields
}
