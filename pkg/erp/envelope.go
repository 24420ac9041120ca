package erp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Envelope is the versioned canonical purchase-order payload carried
// through the outbox. It is snapshotted at enqueue time and immutable until
// delivered or dead-lettered.
const (
	SchemaName    = "erp.purchase_order"
	SchemaVersion = 1
)

type Envelope struct {
	SchemaName    string  `json:"schema_name"`
	SchemaVersion int     `json:"schema_version"`
	WorkspaceID   string  `json:"workspace_id"`
	ExternalRef   string  `json:"external_ref"`
	Number        *string `json:"number,omitempty"`
	SupplierName  string  `json:"supplier_name"`
	Currency      string  `json:"currency"`
	TotalAmount   float64 `json:"total_amount"`
	Lines         []Line  `json:"lines"`
}

type Line struct {
	LineNo      int      `json:"line_no"`
	ProductCode *string  `json:"product_code,omitempty"`
	Description *string  `json:"description,omitempty"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
}

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_name", "schema_version", "workspace_id", "external_ref", "supplier_name", "currency", "total_amount", "lines"],
  "properties": {
    "schema_name": {"const": "erp.purchase_order"},
    "schema_version": {"type": "integer"},
    "workspace_id": {"type": "string", "minLength": 1},
    "external_ref": {"type": "string", "minLength": 1},
    "number": {"type": ["string", "null"]},
    "supplier_name": {"type": "string", "minLength": 1},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "total_amount": {"type": "number", "minimum": 0},
    "lines": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["line_no", "quantity", "unit_price"],
        "properties": {
          "line_no": {"type": "integer", "minimum": 1},
          "product_code": {"type": ["string", "null"]},
          "description": {"type": ["string", "null"]},
          "quantity": {"type": "number", "exclusiveMinimum": 0},
          "unit_price": {"type": "number", "minimum": 0},
          "total_price": {"type": ["number", "null"], "minimum": 0}
        }
      }
    }
  }
}`

var compiledEnvelopeSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://schemas.procurahq.dev/erp/purchase_order.v1.schema.json"
	if err := c.AddResource(url, strings.NewReader(envelopeSchema)); err != nil {
		panic(fmt.Sprintf("envelope schema resource: %v", err))
	}
	return c.MustCompile(url)
}()

// ValidateEnvelope checks the envelope against the versioned contract.
// An unknown schema version or a schema violation is a definitive failure.
func ValidateEnvelope(raw []byte) error {
	var probe struct {
		SchemaName    string `json:"schema_name"`
		SchemaVersion int    `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	if probe.SchemaName != SchemaName {
		return fmt.Errorf("unknown schema_name %q", probe.SchemaName)
	}
	if probe.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unknown schema_version %d", probe.SchemaVersion)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := compiledEnvelopeSchema.Validate(doc); err != nil {
		return fmt.Errorf("envelope contract violation: %w", err)
	}
	return nil
}

// DecodeEnvelope parses a canonical snapshot back into its typed form.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// ContentHash returns the SHA-256 hex digest of the RFC 8785 canonical form
// of the envelope, used to pin the snapshot across retry chains.
func ContentHash(env *Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("jcs canonicalization: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
