package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	formatText    = "text"
	formatJSON    = "json"
	formatMsgpack = "msgpack"
)

type embeddingRecord struct {
	Path      string    `json:"path" msgpack:"path"`
	Shape     []int     `json:"shape" msgpack:"shape"`
	Embedding []float32 `json:"embedding" msgpack:"embedding"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

func parseFormat(value string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(value)); format {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatMsgpack:
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or msgpack)", value)
	}
}

func isBinaryFormat(format string) bool {
	return format == formatMsgpack
}

func writeRecords(w io.Writer, format string, records []embeddingRecord) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case formatMsgpack:
		return msgpack.NewEncoder(w).Encode(records)
	default:
		for _, r := range records {
			if _, err := fmt.Fprintln(w, formatTextRecord(r)); err != nil {
				return err
			}
		}
		return nil
	}
}

// formatTextRecord renders "<path>\t<v1> <v2> ..." with the shortest
// float32 representation of each value.
func formatTextRecord(r embeddingRecord) string {
	var b strings.Builder
	b.WriteString(r.Path)
	b.WriteByte('\t')
	for i, v := range r.Embedding {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return b.String()
}
