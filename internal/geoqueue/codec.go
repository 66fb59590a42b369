package geoqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// RecordDelimiter separates individual records inside a persisted blob.
// It is the ASCII record-separator control character, which encoding/json
// always escapes inside string values, so encoded content can never collide
// with it.
const RecordDelimiter = "\x1e"

// recordVersion tags every persisted record. A record carrying an unknown
// version is treated as unparsable and dropped on the next rebuild.
const recordVersion = 1

// AttributeCodec converts the opaque attribute set of a feature to and from
// its string form. Implementations are supplied by the host; failures are
// non-fatal to the surrounding mutation.
type AttributeCodec interface {
	Serialize(attributes map[string]any) (string, error)
	Deserialize(raw string) (map[string]any, error)
}

type JSONAttributeCodec struct{}

func (JSONAttributeCodec) Serialize(attributes map[string]any) (string, error) {
	if attributes == nil {
		return "", nil
	}
	data, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (JSONAttributeCodec) Deserialize(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var attributes map[string]any
	if err := json.Unmarshal([]byte(raw), &attributes); err != nil {
		return nil, err
	}
	return attributes, nil
}

type mutationRecord struct {
	Version    int       `json:"v"`
	Operation  Operation `json:"op"`
	LayerID    string    `json:"layerId"`
	RemoteID   string    `json:"remoteId,omitempty"`
	Geometry   Geometry  `json:"geometry"`
	Attributes *string   `json:"attributes,omitempty"`
}

// EncodeMutation produces the canonical self-delimited record for a
// mutation. Marshaling a fixed struct keeps field order stable, so two
// structurally equal mutations always encode to the same string.
func EncodeMutation(m Mutation) (string, error) {
	if strings.TrimSpace(m.LayerID) == "" {
		return "", fmt.Errorf("%w: empty layer id", ErrInvalidInput)
	}
	if _, ok := ParseOperation(string(m.Operation)); !ok {
		return "", fmt.Errorf("%w: operation %q", ErrInvalidInput, m.Operation)
	}
	if !m.Geometry.Valid() {
		return "", fmt.Errorf("%w: malformed %s geometry", ErrInvalidInput, m.Geometry.Type)
	}
	data, err := json.Marshal(mutationRecord{
		Version:    recordVersion,
		Operation:  m.Operation,
		LayerID:    m.LayerID,
		RemoteID:   m.RemoteID,
		Geometry:   m.Geometry,
		Attributes: m.Attributes,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeFeature builds a mutation from the host's feature parts and encodes
// it. Attribute serialization is delegated to the codec collaborator; if it
// fails the mutation is encoded without attributes and the failure logged,
// rather than losing the whole edit.
func EncodeFeature(codec AttributeCodec, logger *slog.Logger, op Operation, layerID, remoteID string, geometry Geometry, attributes map[string]any) (Mutation, string, error) {
	m := Mutation{
		Operation: op,
		LayerID:   layerID,
		RemoteID:  remoteID,
		Geometry:  geometry,
	}
	if codec == nil {
		codec = JSONAttributeCodec{}
	}
	if attributes != nil {
		serialized, err := codec.Serialize(attributes)
		if err != nil {
			if logger != nil {
				logger.Warn("attribute serialization failed, queuing without attributes",
					"layerId", layerID, "op", string(op), "error", err)
			}
		} else {
			m.Attributes = &serialized
		}
	}
	record, err := EncodeMutation(m)
	if err != nil {
		return Mutation{}, "", err
	}
	return m, record, nil
}

func DecodeMutation(record string) (Mutation, error) {
	record = strings.TrimSuffix(record, RecordDelimiter)
	if strings.TrimSpace(record) == "" {
		return Mutation{}, fmt.Errorf("%w: empty record", ErrInvalidInput)
	}
	var decoded mutationRecord
	if err := json.Unmarshal([]byte(record), &decoded); err != nil {
		return Mutation{}, err
	}
	if decoded.Version != recordVersion {
		return Mutation{}, fmt.Errorf("%w: record version %d", ErrInvalidInput, decoded.Version)
	}
	m := Mutation{
		Operation:  decoded.Operation,
		LayerID:    decoded.LayerID,
		RemoteID:   decoded.RemoteID,
		Geometry:   decoded.Geometry,
		Attributes: decoded.Attributes,
	}
	if _, ok := ParseOperation(string(m.Operation)); !ok {
		return Mutation{}, fmt.Errorf("%w: operation %q", ErrInvalidInput, decoded.Operation)
	}
	if !m.Geometry.Valid() {
		return Mutation{}, fmt.Errorf("%w: malformed %s geometry", ErrInvalidInput, decoded.Geometry.Type)
	}
	return m, nil
}

// DecodeAttributes reverses the attribute half of a record via the codec
// collaborator.
func DecodeAttributes(codec AttributeCodec, m Mutation) (map[string]any, error) {
	if m.Attributes == nil {
		return nil, nil
	}
	if codec == nil {
		codec = JSONAttributeCodec{}
	}
	return codec.Deserialize(*m.Attributes)
}

func joinRecords(records []string) string {
	return strings.Join(records, RecordDelimiter)
}

func splitRecords(blob string) []string {
	if blob == "" {
		return nil
	}
	parts := strings.Split(blob, RecordDelimiter)
	records := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		records = append(records, part)
	}
	return records
}
