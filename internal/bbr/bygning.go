package bbr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StatusInUse is the BBR building status for "opført" (constructed and in
// use). Only buildings in this status count as operational shelters.
const StatusInUse = "6"

// Building is one building record from the BBR registry, reduced to the
// fields the shelter sync cares about. Husnummer is a DAR husnummer UUID
// used for address enrichment.
type Building struct {
	ID          string
	Status      string
	Capacity    int
	Anvendelse  string
	Kommunekode string
	Husnummer   string
}

// IsShelter reports whether the building is an operational shelter: in use
// and with at least one sikringsrum place.
func (b *Building) IsShelter() bool {
	return b.Status == StatusInUse && b.Capacity > 0
}

// Page is the decoded result of one registry page. Malformed counts array
// elements that could not be decoded into a Building; they are logged and
// skipped rather than failing the page.
type Page struct {
	Buildings []Building
	Malformed int
}

// wireBuilding mirrors the registry JSON. The feed is not strictly typed:
// numeric fields arrive as numbers or strings depending on the record's
// vintage, so scalars decode through the flex types below.
type wireBuilding struct {
	ID          string     `json:"id_lokalId"`
	Status      flexString `json:"status"`
	Capacity    flexInt    `json:"byg069Sikringsrumpladser"`
	Anvendelse  flexString `json:"byg021BygningensAnvendelse"`
	Kommunekode flexString `json:"kommunekode"`
	Husnummer   string     `json:"husnummer"`
}

func (w *wireBuilding) building() Building {
	return Building{
		ID:          w.ID,
		Status:      string(w.Status),
		Capacity:    int(w.Capacity),
		Anvendelse:  string(w.Anvendelse),
		Kommunekode: string(w.Kommunekode),
		Husnummer:   w.Husnummer,
	}
}

// flexInt decodes a JSON number, a numeric string, or null into an int.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0

		return nil
	}

	s := string(data)
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid quoted number %s: %w", s, err)
		}

		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = 0

			return nil
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}

	*f = flexInt(n)

	return nil
}

// flexString decodes a JSON string, number, or null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""

		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}

	*f = flexString(n.String())

	return nil
}
