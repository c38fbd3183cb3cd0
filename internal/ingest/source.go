package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/bibflow/bibflow/internal/record"
)

// Records decodes a stream of ingest records from r. Both forms are
// accepted: a top-level JSON array of record objects, or one record
// object per line (ND-JSON). The first yielded error ends the
// sequence.
func Records(r io.Reader) iter.Seq2[record.IngestRecord, error] {
	return func(yield func(record.IngestRecord, error) bool) {
		dec := json.NewDecoder(r)

		tok, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(record.IngestRecord{}, err)
			return
		}

		if delim, ok := tok.(json.Delim); ok && delim == '[' {
			for dec.More() {
				var rec record.IngestRecord
				if err := dec.Decode(&rec); err != nil {
					yield(record.IngestRecord{}, err)
					return
				}
				if !yield(rec, nil) {
					return
				}
			}
			if _, err := dec.Token(); err != nil {
				yield(record.IngestRecord{}, err)
			}
			return
		}

		// ND-JSON: the first token opened an object. Rewind is not
		// possible on a stream, so decode the remainder of the first
		// object by hand, then continue with the decoder.
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			yield(record.IngestRecord{}, fmt.Errorf("expected array or object, got %v", tok))
			return
		}
		first, err := decodeOpenObject(dec)
		if err != nil {
			yield(record.IngestRecord{}, err)
			return
		}
		if !yield(first, nil) {
			return
		}
		for dec.More() {
			var rec record.IngestRecord
			if err := dec.Decode(&rec); err != nil {
				yield(record.IngestRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// decodeOpenObject finishes decoding a record whose opening brace the
// caller already consumed.
func decodeOpenObject(dec *json.Decoder) (record.IngestRecord, error) {
	raw := map[string]json.RawMessage{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return record.IngestRecord{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return record.IngestRecord{}, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return record.IngestRecord{}, err
		}
		raw[key] = value
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return record.IngestRecord{}, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return record.IngestRecord{}, err
	}
	var rec record.IngestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.IngestRecord{}, err
	}
	return rec, nil
}
