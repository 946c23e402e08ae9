package notion

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/cybertec-postgresql/gamesync/internal/record"
)

// ParseError describes a page that does not carry a usable record
type ParseError struct {
	PageID   string
	Property string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("page %s: property %q %s", e.PageID, e.Property, e.Reason)
}

// ParsePage extracts a record from one page object of a database query.
// The id comes from the number property idProp and the name from the first
// element of the title property nameProp.
func ParsePage(page gjson.Result, idProp, nameProp string) (record.Record, error) {
	pageID := page.Get("id").String()
	props := page.Get("properties")

	num := props.Get(gjson.Escape(idProp) + ".number")
	switch {
	case !num.Exists() || num.Type == gjson.Null:
		return record.Record{}, &ParseError{PageID: pageID, Property: idProp, Reason: "has no number"}
	case num.Type != gjson.Number:
		return record.Record{}, &ParseError{PageID: pageID, Property: idProp, Reason: "is not a number"}
	case num.Num != math.Trunc(num.Num):
		return record.Record{}, &ParseError{PageID: pageID, Property: idProp, Reason: "is not an integer"}
	}

	title := props.Get(gjson.Escape(nameProp) + ".title")
	if !title.IsArray() || len(title.Array()) == 0 {
		return record.Record{}, &ParseError{PageID: pageID, Property: nameProp, Reason: "has no title"}
	}
	first := title.Array()[0]
	name := first.Get("text.content")
	if !name.Exists() {
		name = first.Get("plain_text")
	}
	if name.Type != gjson.String {
		return record.Record{}, &ParseError{PageID: pageID, Property: nameProp, Reason: "has no text content"}
	}

	return record.Record{ID: num.Int(), Name: name.String()}, nil
}
