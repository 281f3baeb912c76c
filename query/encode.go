package query

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
)

// EncodeBinary turns a Go value into the binary wire representation for
// the given OID, using the pgx type catalog (the same pgtype.Map the
// teacher uses server-side in copy.go's NewScanner, here run in the
// encode rather than decode direction — SetBinary is the executor's job
// per §4.2, while decoding a DataRow back into Go values belongs to
// the out-of-scope row-materialisation layer).
func EncodeBinary(tm *pgtype.Map, parameterOID oid.Oid, value any) ([]byte, error) {
	return tm.Encode(uint32(parameterOID), pgtype.BinaryFormatCode, value, nil)
}

// SetValue assigns slot i from a Go value, encoding it against tm in
// binary format for parameterOID.
func (p *ParameterList) SetValue(tm *pgtype.Map, i int, value any, parameterOID oid.Oid) error {
	if value == nil {
		p.SetNull(i, parameterOID)
		return nil
	}

	encoded, err := EncodeBinary(tm, parameterOID, value)
	if err != nil {
		return err
	}

	p.SetBinary(i, encoded, parameterOID)
	return nil
}

// SetNumeric assigns slot i a shopspring/decimal value, text-encoded
// against the numeric OID — numeric's canonical text representation is
// exactly decimal.Decimal.String(), so no binary numeric codec is
// needed to round-trip it.
func (p *ParameterList) SetNumeric(i int, d decimal.Decimal) {
	p.SetText(i, []byte(d.String()), oid.T_numeric)
}
