package literature

import (
	"bufio"
	"io"
	"strings"
)

// medlineRecord holds one record's fields. Repeating fields like AU
// and AID keep one entry per occurrence, in file order.
type medlineRecord map[string][]string

func (r medlineRecord) first(key string) string {
	if v := r[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseMedline reads efetch's Medline text format: a four-character
// field code, "- ", the value, with wrapped values continued on lines
// indented by six spaces. Records are separated by blank lines.
func parseMedline(r io.Reader) []medlineRecord {
	var records []medlineRecord
	cur := medlineRecord{}
	lastKey := ""

	flush := func() {
		if len(cur) > 0 {
			records = append(records, cur)
			cur = medlineRecord{}
		}
		lastKey = ""
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case strings.HasPrefix(line, "      ") && lastKey != "":
			vals := cur[lastKey]
			vals[len(vals)-1] += " " + strings.TrimSpace(line)
		case len(line) >= 6 && line[4:6] == "- ":
			lastKey = strings.TrimRight(line[:4], " ")
			cur[lastKey] = append(cur[lastKey], strings.TrimSpace(line[6:]))
		}
	}
	flush()
	return records
}
