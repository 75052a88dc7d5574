/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: json.go
Description: Tagged-union JSON encoding for hypotheses. Every variant serialises as an
object with a "kind" discriminator followed by its named parameters.
*/

package hypothesis

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// marshalTagged encodes params as a JSON object and adds the kind discriminator
func marshalTagged(kind Kind, params interface{}) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	kindJSON, _ := json.Marshal(kind)
	fields["kind"] = kindJSON
	return json.Marshal(fields)
}

func (h Opaque) MarshalJSON() ([]byte, error) {
	return marshalTagged(h.Kind(), struct{}{})
}

func (h LengthPrefixBundle) MarshalJSON() ([]byte, error) {
	type plain LengthPrefixBundle
	return marshalTagged(h.Kind(), plain(h))
}

// delimiterJSON carries the delimiter as hex so it stays readable in reports
type delimiterJSON struct {
	Delimiter string `json:"delimiter"`
}

func (h DelimiterBundle) MarshalJSON() ([]byte, error) {
	return marshalTagged(h.Kind(), delimiterJSON{Delimiter: hex.EncodeToString(h.Delimiter)})
}

func (h FixedHeader) MarshalJSON() ([]byte, error) {
	type plain FixedHeader
	return marshalTagged(h.Kind(), plain(h))
}

func (h ExtensibleBitmap) MarshalJSON() ([]byte, error) {
	type plain ExtensibleBitmap
	return marshalTagged(h.Kind(), plain(h))
}

func (h Tlv) MarshalJSON() ([]byte, error) {
	type plain Tlv
	return marshalTagged(h.Kind(), plain(h))
}

func (h VarintKeyWireType) MarshalJSON() ([]byte, error) {
	type plain VarintKeyWireType
	return marshalTagged(h.Kind(), plain(h))
}

// Decode parses a tagged hypothesis object and validates its parameters
func Decode(data []byte) (Hypothesis, error) {
	var tag struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode hypothesis: %w", err)
	}

	var h Hypothesis
	switch tag.Kind {
	case KindOpaque:
		h = Opaque{}
	case KindLengthPrefix:
		var v LengthPrefixBundle
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		h = v
	case KindDelimiter:
		var v delimiterJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		delim, err := hex.DecodeString(v.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to decode delimiter %q: %w", v.Delimiter, err)
		}
		h = DelimiterBundle{Delimiter: delim}
	case KindFixedHeader:
		var v FixedHeader
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		h = v
	case KindExtensibleBitmap:
		var v ExtensibleBitmap
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		h = v
	case KindTLV:
		var v Tlv
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		h = v
	case KindVarint:
		var v VarintKeyWireType
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", tag.Kind, err)
		}
		h = v
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, tag.Kind)
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}
