// Package chart turns aggregate series into plotly-compatible figure descriptions.
package chart

import (
	"fmt"
	"math"
	"strconv"

	"example.com/steps/internal/domain"
)

const (
	barColor        = "orangered"
	averageColor    = "gray"
	backgroundColor = "rgb(27, 27, 27)"
	annotationColor = "white"
	headroom        = 1.1
)

// Spec is a renderable figure: traces plus layout.
type Spec struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is one plotted series.
type Trace struct {
	Type   string    `json:"type"`
	Name   string    `json:"name"`
	Mode   string    `json:"mode,omitempty"`
	X      []string  `json:"x"`
	Y      []float64 `json:"y"`
	Marker *Marker   `json:"marker,omitempty"`
	Line   *Line     `json:"line,omitempty"`
}

type Marker struct {
	Color string `json:"color"`
}

type Line struct {
	Color string `json:"color"`
	Width int    `json:"width"`
}

// Layout carries titles, axes and annotations.
type Layout struct {
	Title        string       `json:"title"`
	XAxis        Axis         `json:"xaxis"`
	YAxis        Axis         `json:"yaxis"`
	BarMode      string       `json:"barmode"`
	Annotations  []Annotation `json:"annotations"`
	PlotBGColor  string       `json:"plot_bgcolor"`
	PaperBGColor string       `json:"paper_bgcolor"`
}

type Axis struct {
	Title    string `json:"title"`
	ShowGrid bool   `json:"showgrid"`
}

type Font struct {
	Color string `json:"color"`
	Size  int    `json:"size"`
}

// Annotation is a text label placed at (X, Y) in data coordinates.
type Annotation struct {
	X         string  `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	ShowArrow bool    `json:"showarrow"`
	Font      Font    `json:"font"`
	Align     string  `json:"align"`
}

// Build describes a bar chart of series with a flat average line and an average annotation.
// The annotation sits on the middle label, 10% above the tallest bar; an empty series puts it
// at an empty label on the zero baseline. series is not modified.
func Build(series []domain.Point, average float64, title, xTitle, yTitle string) Spec {
	labels := make([]string, len(series))
	values := make([]float64, len(series))
	averages := make([]float64, len(series))
	var peak float64
	for i, p := range series {
		labels[i] = p.Label
		values[i] = float64(p.Value)
		averages[i] = average
		if values[i] > peak {
			peak = values[i]
		}
	}

	annotation := Annotation{
		Text:  fmt.Sprintf("Average: %s", formatAverage(average)),
		Font:  Font{Color: annotationColor, Size: 14},
		Align: "center",
	}
	if len(series) > 0 {
		annotation.X = labels[len(labels)/2]
		annotation.Y = peak * headroom
	}

	return Spec{
		Data: []Trace{
			{Type: "bar", Name: "Steps", X: labels, Y: values, Marker: &Marker{Color: barColor}},
			{Type: "scatter", Name: "Average", Mode: "lines", X: labels, Y: averages, Line: &Line{Color: averageColor, Width: 2}},
		},
		Layout: Layout{
			Title:        title,
			XAxis:        Axis{Title: xTitle},
			YAxis:        Axis{Title: yTitle},
			BarMode:      "group",
			Annotations:  []Annotation{annotation},
			PlotBGColor:  backgroundColor,
			PaperBGColor: backgroundColor,
		},
	}
}

// formatAverage rounds to two decimals without trailing zeros, e.g. 900 or 1234.57.
func formatAverage(v float64) string {
	rounded := math.Round(v*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
