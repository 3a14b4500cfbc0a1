package attributes

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	jsonURIPrefix = "data:application/json;base64,"
	svgURIPrefix  = "data:image/svg+xml;base64,"
)

// Trait is one {trait_type, value} pair of the metadata document.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata is the self-describing document returned for an asset.
type Metadata struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Attributes  []Trait `json:"attributes"`
}

// Document builds the metadata for assetID from its descriptor.
func Document(collection string, assetID uint64, d Descriptor) Metadata {
	return Metadata{
		Name:        fmt.Sprintf("%s #%d", collection, assetID),
		Description: "An on-chain generated SVG that rotates with age and grows with level.",
		Image:       svgURIPrefix + base64.StdEncoding.EncodeToString([]byte(SVG(d))),
		Attributes: []Trait{
			{TraitType: "Level", Value: d.Level},
			{TraitType: "Color", Value: d.Color},
			{TraitType: "Days Since Mint", Value: d.AgeDays},
			{TraitType: "Rotation", Value: d.Rotation},
			{TraitType: "Size", Value: d.Size},
		},
	}
}

// URI encodes the document as a base64 JSON data URI.
func (m Metadata) URI() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return jsonURIPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// SVG draws the descriptor as a square rotated about the canvas centre.
func SVG(d Descriptor) string {
	half := d.Size / 2
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="400" viewBox="0 0 400 400">`+
			`<rect width="400" height="400" fill="#1a1a2e"/>`+
			`<rect x="%d" y="%d" width="%d" height="%d" fill="%s" transform="rotate(%d 200 200)"/>`+
			`<text x="200" y="380" fill="#ffffff" font-family="monospace" font-size="20" text-anchor="middle">%s</text>`+
			`</svg>`,
		200-int64(half), 200-int64(half), d.Size, d.Size, d.Color, d.Rotation, d.Label,
	)
}
