// Package healthexport reads step-count observations out of health export XML documents.
package healthexport

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"example.com/steps/internal/domain"
)

const (
	// StepCountType is the Record type discriminator for step counts.
	StepCountType = "HKQuantityTypeIdentifierStepCount"
	// TimestampLayout matches export timestamps such as "2024-06-03 08:00:00 +0000".
	TimestampLayout = "2006-01-02 15:04:05 -0700"

	recordElement = "Record"
)

// ParseBytes is Parse over an in-memory document.
func ParseBytes(raw []byte) ([]domain.Observation, error) {
	return Parse(bytes.NewReader(raw))
}

// Parse streams the document and returns one observation per step-count Record element, at any depth.
// Records lacking startDate or value are skipped. A Record without a type attribute, an unparseable
// timestamp or value, or a document that is not well-formed XML fails with domain.ErrMalformedInput.
// A document without step-count records yields an empty, non-nil batch.
func Parse(r io.Reader) ([]domain.Observation, error) {
	dec := xml.NewDecoder(r)
	batch := make([]domain.Observation, 0)
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Local != recordElement {
			continue
		}

		obs, ok, err := parseRecord(start)
		if err != nil {
			line, _ := dec.InputPos()
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedInput, line, err)
		}
		if ok {
			batch = append(batch, obs)
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: no root element", domain.ErrMalformedInput)
	}
	return batch, nil
}

func parseRecord(el xml.StartElement) (domain.Observation, bool, error) {
	recordType, hasType := attr(el, "type")
	if !hasType {
		return domain.Observation{}, false, errors.New("record without type attribute")
	}
	if recordType != StepCountType {
		return domain.Observation{}, false, nil
	}

	rawStart, hasStart := attr(el, "startDate")
	rawValue, hasValue := attr(el, "value")
	if !hasStart || !hasValue {
		return domain.Observation{}, false, nil
	}

	ts, err := time.Parse(TimestampLayout, rawStart)
	if err != nil {
		return domain.Observation{}, false, fmt.Errorf("invalid startDate %q", rawStart)
	}
	steps, err := strconv.ParseInt(rawValue, 10, 64)
	if err != nil {
		return domain.Observation{}, false, fmt.Errorf("invalid step value %q", rawValue)
	}
	if steps < 0 {
		return domain.Observation{}, false, fmt.Errorf("negative step value %d", steps)
	}

	return domain.Observation{Timestamp: ts, StepCount: steps}, true, nil
}

func attr(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
