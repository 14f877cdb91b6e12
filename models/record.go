package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is a single metric row returned by the upstream API. Only its date
// is interpreted; the original bytes are kept so every other field, and the
// field order, is written back out unchanged.
type Record struct {
	// Date is the record's own "date" value, empty when the field is
	// missing or not a non-empty JSON string.
	Date string
	Raw  json.RawMessage
}

// MarshalJSON emits the record exactly as it was received.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// UnmarshalJSON keeps a normalised copy of data and extracts the date
// field. Key order and number literals are kept as received; string escapes
// such as \uXXXX are decoded so the text is written back literally.
func (r *Record) UnmarshalJSON(data []byte) error {
	normalized, err := normalize(data)
	if err != nil {
		return err
	}
	r.Raw = normalized
	r.Date = ""

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var head struct {
		Date json.RawMessage `json:"date"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return err
	}

	var date string
	if err := json.Unmarshal(head.Date, &date); err == nil {
		r.Date = date
	}
	return nil
}

// HasDate reports whether the record can be partitioned.
func (r Record) HasDate() bool { return r.Date != "" }

// ErrNotArray is returned by ParseRecords when the payload is valid JSON but
// not an array.
var ErrNotArray = errors.New("payload is not a JSON array")

// ParseRecords decodes an upstream payload. It fails if body is not a JSON
// array; individual elements are never rejected.
func ParseRecords(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, errors.New("payload is not valid JSON")
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// normalize re-emits one JSON value compactly, token by token.
func normalize(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := writeValue(dec, &buf); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return buf.Bytes(), nil
}

func writeValue(dec *json.Decoder, buf *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			buf.WriteByte('{')
			for first := true; dec.More(); first = false {
				if !first {
					buf.WriteByte(',')
				}
				key, err := dec.Token()
				if err != nil {
					return err
				}
				name, ok := key.(string)
				if !ok {
					return fmt.Errorf("unexpected object key %v", key)
				}
				if err := writeString(buf, name); err != nil {
					return err
				}
				buf.WriteByte(':')
				if err := writeValue(dec, buf); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			buf.WriteByte('}')
		case '[':
			buf.WriteByte('[')
			for first := true; dec.More(); first = false {
				if !first {
					buf.WriteByte(',')
				}
				if err := writeValue(dec, buf); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			buf.WriteByte(']')
		default:
			return fmt.Errorf("unexpected delimiter %v", t)
		}
	case string:
		return writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %v", t)
	}
	return nil
}

// writeString quotes s leaving non-ASCII and HTML characters literal.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
