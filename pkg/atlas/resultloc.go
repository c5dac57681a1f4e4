package atlas

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// taskDocument is a decoded task status reply. The service is loose about
// field names and types, so it is kept as a generic map.
type taskDocument map[string]any

// str returns the field as a trimmed string. Missing, null and empty
// values report false.
func (d taskDocument) str(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if !t {
			return "", false
		}
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (d taskDocument) status() JobStatus {
	if _, ok := d.str("finishtimestamp"); ok {
		return StatusFinished
	}
	if _, ok := d.str("starttimestamp"); ok {
		return StatusStarted
	}
	return StatusQueued
}

func (d taskDocument) fieldNames() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// resultLocator extracts a result URL from a finished task, if it can.
type resultLocator struct {
	name   string
	locate func(doc taskDocument, baseURL string) (string, bool)
}

func fieldLocator(key string) resultLocator {
	return resultLocator{
		name: key,
		locate: func(doc taskDocument, _ string) (string, bool) {
			return doc.str(key)
		},
	}
}

// jobIDLocator builds {base}/static/results/job{id}.txt.
var jobIDLocator = resultLocator{
	name: "id",
	locate: func(doc taskDocument, baseURL string) (string, bool) {
		id, ok := doc.str("id")
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s/static/results/job%s.txt", baseURL, id), true
	},
}

// resultLocators is tried in order; the first hit wins.
var resultLocators = []resultLocator{
	fieldLocator("result_url"),
	fieldLocator("result"),
	fieldLocator("resultfile"),
	fieldLocator("result_file"),
	jobIDLocator,
}

// locateResult walks resultLocators. It returns the URL and the strategy
// that produced it.
func locateResult(doc taskDocument, baseURL string) (string, string, bool) {
	for _, l := range resultLocators {
		if u, ok := l.locate(doc, baseURL); ok {
			return resolveRef(baseURL, u), l.name, true
		}
	}
	return "", "", false
}

// resolveRef makes a relative result reference absolute against baseURL.
func resolveRef(baseURL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(baseURL + "/")
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
