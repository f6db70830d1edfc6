package atproto

import (
	"encoding/json"
	"regexp"
	"strings"
)

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Facets    []Facet      `json:"facets,omitempty"`
	Embed     *imagesEmbed `json:"embed,omitempty"`
}

type imagesEmbed struct {
	Type   string          `json:"$type"`
	Images []embeddedImage `json:"images"`
}

type embeddedImage struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"`
}

// Facet annotates a byte range of the post text.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// ByteSlice is a half-open range of UTF-8 byte offsets.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature is a facet feature. Only links are produced.
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"]+`)

// LinkFacets returns a link facet for every http(s) URL in text. Trailing
// sentence punctuation is not part of the link.
func LinkFacets(text string) []Facet {
	var facets []Facet
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		uri := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)'")
		if strings.HasSuffix(uri, "//") {
			continue
		}
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: loc[0], ByteEnd: loc[0] + len(uri)},
			Features: []Feature{{Type: LinkFeatureType, URI: uri}},
		})
	}
	return facets
}
