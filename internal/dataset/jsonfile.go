package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// loadJSON flattens a JSON document into "path: value" lines, one per leaf.
// Object keys join with dots, array elements with [index]. Lines come out
// in document order, so the walk runs on the token stream rather than a
// decoded map.
func loadJSON(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Failed to read JSON file", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var flattened []string
	if err := flattenValue(decoder, "", &flattened); err != nil {
		return "", apperr.Wrap(apperr.KindUnprocessable, "JSON file could not be parsed", err)
	}
	if len(flattened) == 0 {
		return "", apperr.New(apperr.KindUnprocessable, "JSON file does not contain extractable data")
	}

	return strings.Join(flattened, "\n"), nil
}

// flattenValue consumes exactly one JSON value from the decoder, emitting
// leaf lines prefixed with the current key path.
func flattenValue(decoder *json.Decoder, prefix string, out *[]string) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}

	switch tok := token.(type) {
	case json.Delim:
		switch tok {
		case '{':
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return err
				}
				key, ok := keyToken.(string)
				if !ok {
					return fmt.Errorf("unexpected object key token %v", keyToken)
				}
				newPrefix := key
				if prefix != "" {
					newPrefix = prefix + "." + key
				}
				if err := flattenValue(decoder, newPrefix, out); err != nil {
					return err
				}
			}
			_, err := decoder.Token() // closing brace
			return err
		case '[':
			for index := 0; decoder.More(); index++ {
				newPrefix := fmt.Sprintf("%s[%d]", prefix, index)
				if err := flattenValue(decoder, newPrefix, out); err != nil {
					return err
				}
			}
			_, err := decoder.Token() // closing bracket
			return err
		}
		return fmt.Errorf("unexpected delimiter %v", tok)
	default:
		*out = append(*out, prefix+": "+renderLeaf(token))
		return nil
	}
}

// renderLeaf formats a scalar JSON token for the flattened line.
func renderLeaf(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
