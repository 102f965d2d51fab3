package event

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var compiledSchemas = map[string]*jsonschema.Schema{
	TypeApprovalRequested:     mustCompile("schemas/publication_approval_requested.json"),
	TypeContractStatusChanged: mustCompile("schemas/contract_status_changed.json"),
}

func mustCompile(path string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("reading embedded schema %s: %v", path, err))
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(path, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("adding schema resource %s: %v", path, err))
	}

	schema, err := compiler.Compile(path)
	if err != nil {
		panic(fmt.Sprintf("compiling schema %s: %v", path, err))
	}
	return schema
}

// validateDetail checks the raw detail payload against the schema registered
// for the detail type.
func validateDetail(detailType string, detail json.RawMessage) error {
	schema, ok := compiledSchemas[detailType]
	if !ok {
		return &ValidationError{DetailType: detailType, Reason: "no schema registered for detail type"}
	}

	var v any
	if err := json.Unmarshal(detail, &v); err != nil {
		return &ValidationError{DetailType: detailType, Reason: fmt.Sprintf("detail is not valid JSON: %v", err)}
	}

	if err := schema.Validate(v); err != nil {
		return &ValidationError{DetailType: detailType, Reason: err.Error()}
	}
	return nil
}

// DecodeApprovalRequested validates and unmarshals a
// PublicationApprovalRequested envelope.
func DecodeApprovalRequested(env Envelope) (PublicationApprovalRequested, error) {
	if env.DetailType != TypeApprovalRequested {
		return PublicationApprovalRequested{}, &ValidationError{
			DetailType: env.DetailType,
			Reason:     fmt.Sprintf("expected detail type %s", TypeApprovalRequested),
		}
	}
	if err := validateDetail(env.DetailType, env.Detail); err != nil {
		return PublicationApprovalRequested{}, err
	}

	var p PublicationApprovalRequested
	if err := json.Unmarshal(env.Detail, &p); err != nil {
		return PublicationApprovalRequested{}, &ValidationError{DetailType: env.DetailType, Reason: err.Error()}
	}
	return p, nil
}

// DecodeContractStatusChanged validates and unmarshals a
// ContractStatusChanged envelope.
func DecodeContractStatusChanged(env Envelope) (ContractStatusChanged, error) {
	if env.DetailType != TypeContractStatusChanged {
		return ContractStatusChanged{}, &ValidationError{
			DetailType: env.DetailType,
			Reason:     fmt.Sprintf("expected detail type %s", TypeContractStatusChanged),
		}
	}
	if err := validateDetail(env.DetailType, env.Detail); err != nil {
		return ContractStatusChanged{}, err
	}

	var p ContractStatusChanged
	if err := json.Unmarshal(env.Detail, &p); err != nil {
		return ContractStatusChanged{}, &ValidationError{DetailType: env.DetailType, Reason: err.Error()}
	}
	return p, nil
}
