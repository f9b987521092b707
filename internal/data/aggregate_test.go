package data

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func pointsOf(rows ...map[string]any) []Point {
	ts := time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)
	out := make([]Point, len(rows))
	for i, row := range rows {
		obj, _ := ValueOf(row).AsObject()
		out[i] = Point{Timestamp: ts.Add(time.Duration(i) * time.Hour), Fields: obj}
	}
	return out
}

func TestAggregate(t *testing.T) {
	Convey("Given points with a numeric field and one bad value", t, func() {
		points := pointsOf(
			map[string]any{"x": 10},
			map[string]any{"x": 20},
			map[string]any{"x": "bad"},
		)

		Convey("default aggregates exclude sum and skip the bad value", func() {
			got := AggregateWithOptions(points, map[string]FieldOptions{"x": {}}, nil)
			So(got, ShouldResemble, Aggregates{
				"x": {StatAvg: 15, StatMin: 10, StatMax: 20, StatCount: 2},
			})
		})

		Convey("Aggregate computes all statistics", func() {
			got := Aggregate(points, []string{"x", "missing"})
			So(got["x"][StatSum], ShouldEqual, 30)
			So(got["x"][StatCount], ShouldEqual, 2)
			So(got, ShouldNotContainKey, "missing")
		})

		Convey("an explicit aggregate list is honoured", func() {
			got := AggregateWithOptions(points, map[string]FieldOptions{"x": {Aggregates: []string{"sum", "median"}}}, nil)
			So(got, ShouldResemble, Aggregates{"x": {StatSum: 30}})
		})

		Convey("a field asking only for unknown statistics is omitted", func() {
			got := AggregateWithOptions(points, map[string]FieldOptions{"x": {Aggregates: []string{"p99"}}}, nil)
			So(got, ShouldBeEmpty)
		})

		Convey("provided defaults replace the built-in set", func() {
			got := AggregateWithOptions(points, map[string]FieldOptions{"x": {}}, []string{StatMax})
			So(got, ShouldResemble, Aggregates{"x": {StatMax: 20}})
		})

		Convey("fields absent from the options are not aggregated", func() {
			So(AggregateWithOptions(points, map[string]FieldOptions{}, nil), ShouldBeEmpty)
		})
	})

	Convey("Values are rounded to six digits and strings coerce", t, func() {
		points := pointsOf(
			map[string]any{"v": 1.0000001},
			map[string]any{"v": " 2 "},
			map[string]any{"v": true},
			map[string]any{"v": nil},
		)
		got := Aggregate(points, []string{"v"})
		So(got["v"][StatMin], ShouldEqual, 1)
		So(got["v"][StatAvg], ShouldEqual, 1.5)
		So(got["v"][StatCount], ShouldEqual, 2)
	})
}

func TestDetectNumericFields(t *testing.T) {
	Convey("Given a mix of numeric and non-numeric fields", t, func() {
		points := pointsOf(
			map[string]any{"price": "1.5", "name": "btc", "flag": true, "vol": nil},
			map[string]any{"price": 2, "name": "eth", "flag": false, "vol": 3},
		)

		Convey("numeric strings and numbers are detected, sorted", func() {
			So(DetectNumericFields(points), ShouldResemble, []string{"price", "vol"})
		})
	})

	Convey("Only the first ten points are sampled", t, func() {
		rows := make([]map[string]any, 0, 11)
		for i := 0; i < 10; i++ {
			rows = append(rows, map[string]any{"n": i})
		}
		rows = append(rows, map[string]any{"n": "not a number"})
		So(DetectNumericFields(pointsOf(rows...)), ShouldResemble, []string{"n"})
	})

	Convey("A field seen only as text is not numeric", t, func() {
		So(DetectNumericFields(pointsOf(map[string]any{"s": "abc"})), ShouldBeEmpty)
	})
}
