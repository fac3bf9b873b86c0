// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v2"

	"github.com/staranto/dyncache/internal/attrs"
	"github.com/staranto/dyncache/internal/config"
	"github.com/staranto/dyncache/internal/filters"
)

// Options are the rendering choices shared by every listing command.
type Options struct {
	Output string
	Filter string
	Sort   string
	Query  string
	Titles bool
	Color  bool
	Local  bool
}

// OptionsFromCommand reads Options from the standard output flags. Flags a
// command does not define are left at their zero value.
func OptionsFromCommand(cmd *cli.Command) Options {
	return Options{
		Output: cmd.String("output"),
		Filter: cmd.String("filter"),
		Sort:   cmd.String("sort"),
		Query:  cmd.String("query"),
		Titles: cmd.Bool("titles"),
		Color:  cmd.Bool("color"),
		Local:  cmd.Bool("local"),
	}
}

// Tag is a json struct tag discovered for --schema.
type Tag struct {
	Name string
	Type string
}

// NewTag builds a Tag from a json tag value. Ignored ("-") and unnamed
// fields produce the zero Tag.
func NewTag(holder string, s string, typ reflect.Type) Tag {
	name := strings.Split(s, ",")[0]
	if name == "" || name == "-" {
		return Tag{}
	}
	if holder != "" {
		name = holder + "." + name
	}
	return Tag{Name: name, Type: typ.String()}
}

// Print renders the tag into its display form.
func (t Tag) Print() string {
	if t.Name == "" {
		return ""
	}
	return fmt.Sprintf("%-24s %s", t.Name, t.Type)
}

// DumpExamples renders a table of example command usages.
func DumpExamples(w io.Writer, examples [][2]string) {
	if len(examples) == 0 {
		return
	}

	var rows [][]string
	for _, ex := range examples {
		rows = append(rows, []string{ex[0], ex[1]})
	}

	t := table.New().
		BorderBottom(false).
		BorderTop(false).
		BorderLeft(false).
		BorderRight(false).
		Border(lipgloss.HiddenBorder()).
		Headers("Command", "Description").
		BorderHeader(false).
		Rows(rows...)

	fmt.Fprintln(w, t)
}

// DumpSchema prints the attribute paths available to --attrs, --filter and
// --sort for rows of the given type.
func DumpSchema(w io.Writer, prefix string, typ reflect.Type) {
	tags := DumpSchemaWalker(prefix, typ, 0)
	if len(tags) == 0 {
		log.Debugf("no tags found for type: %s", typ.Name())
		return
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	for _, tag := range tags {
		fmt.Fprintln(w, tag.Print())
	}
}

const maxSchemaDepth = 1

// DumpSchemaWalker recursively walks a struct type collecting json tags.
func DumpSchemaWalker(holder string, typ reflect.Type, depth int) []Tag {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil
	}

	tags := make([]Tag, 0)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		tagValue, ok := field.Tag.Lookup("json")
		if !ok {
			continue
		}

		tag := NewTag(holder, tagValue, field.Type)
		if tag.Name == "" {
			continue
		}
		tags = append(tags, tag)

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if depth < maxSchemaDepth && ft.Kind() == reflect.Struct {
			tags = append(tags, DumpSchemaWalker(tag.Name, ft, depth+1)...)
		}
	}

	return tags
}

// SliceDiceSpit filters, transforms, sorts and renders dataset, which is
// anything that marshals to a JSON array of objects.
func SliceDiceSpit(dataset any, attrList attrs.AttrList, opts Options, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}

	raw, err := json.Marshal(dataset)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	// Work on a copy so --local does not leak into the caller's attrs.
	attrList = append(attrs.AttrList(nil), attrList...)
	if err := attrList.SetGlobalTransformSpec(); err != nil {
		return err
	}

	rows, err := filters.FilterDataset(gjson.ParseBytes(raw), attrList, opts.Filter)
	if err != nil {
		return err
	}

	if opts.Local {
		for a := range attrList {
			attrList[a].TransformSpec += "t"
		}
	}

	for _, row := range rows {
		for _, attr := range attrList {
			if attr.TransformSpec != "" {
				row[attr.OutputKey] = attr.Transform(row[attr.OutputKey])
			}
		}
	}

	SortDataset(rows, opts.Sort)

	// Filter and sort only attrs are dropped from structured output.
	for _, row := range rows {
		for _, attr := range attrList {
			if !attr.Include {
				delete(row, attr.OutputKey)
			}
		}
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}

	if opts.Query != "" {
		return spitQuery(rows, opts, w)
	}

	switch opts.Output {
	case "json":
		out, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		out, err := yaml.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		TableWriter(rows, attrList, opts, w)
		return nil
	}
}

// spitQuery evaluates a gjson path against the JSON form of rows.
func spitQuery(rows []map[string]interface{}, opts Options, w io.Writer) error {
	doc, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}

	result := gjson.GetBytes(doc, opts.Query)
	if !result.Exists() {
		log.Debugf("query %q matched nothing", opts.Query)
		return nil
	}

	switch opts.Output {
	case "json":
		_, err = fmt.Fprintln(w, result.Raw)
	case "yaml":
		var out []byte
		if out, err = yaml.Marshal(result.Value()); err == nil {
			_, err = w.Write(out)
		}
	default:
		_, err = fmt.Fprintln(w, result.String())
	}
	return err
}

// TableWriter renders the result set in a tabular form honoring color,
// titles and padding options.
func TableWriter(resultSet []map[string]interface{}, attrList attrs.AttrList, opts Options, w io.Writer) {
	if len(resultSet) == 0 {
		return
	}

	var (
		headerStyle  = lipgloss.NewStyle().Align(lipgloss.Left)
		cellStyle    = lipgloss.NewStyle().Padding(0, 0).Align(lipgloss.Left)
		evenRowStyle = cellStyle
		oddRowStyle  = cellStyle
	)

	if opts.Color {
		headerColor, evenColor, oddColor := getColors("colors")

		headerStyle = headerStyle.Foreground(lipgloss.Color(headerColor))
		evenRowStyle = evenRowStyle.Foreground(lipgloss.Color(evenColor))
		oddRowStyle = oddRowStyle.Foreground(lipgloss.Color(oddColor))
	}

	included := attrList.Included()

	var rows [][]string
	for _, result := range resultSet {
		row := make([]string, 0, len(included))
		for _, attr := range included {
			row = append(row, InterfaceToString(result[attr.OutputKey], "-"))
		}
		rows = append(rows, row)
	}

	pad, _ := config.GetInt("padding", 2) //nolint:mnd

	t := table.New().
		BorderBottom(false).
		BorderTop(false).
		BorderLeft(false).
		BorderRight(false).
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			var style lipgloss.Style
			switch {
			case row == table.HeaderRow:
				style = headerStyle
			case row%2 == 0:
				style = evenRowStyle
			default:
				style = oddRowStyle
			}

			if col > 0 {
				style = style.PaddingLeft(pad)
			}

			return style
		}).
		Rows(rows...)

	if opts.Titles {
		var headers []string
		for _, attr := range included {
			headers = append(headers, attr.OutputKey)
		}

		// https://github.com/charmbracelet/lipgloss/issues/261
		t = t.Headers(headers...).BorderHeader(false)
	}
	fmt.Fprintln(w, t)
}

// getColors returns configured color values for table rendering.
func getColors(key string) (header string, even string, odd string) {
	header, _ = config.GetString(fmt.Sprintf("%s.title", key), "#f6be00")
	even, _ = config.GetString(fmt.Sprintf("%s.even", key), "#ffffff")
	odd, _ = config.GetString(fmt.Sprintf("%s.odd", key), "#00c8f0")
	return
}

// InterfaceToString converts supported primitive or composite values to a
// string. nil and empty strings, slices and maps become the empty value,
// which defaults to "".
func InterfaceToString(value interface{}, emptyValue ...string) string {
	if len(emptyValue) == 0 {
		emptyValue = []string{""}
	}

	if value == nil {
		return emptyValue[0]
	}

	switch rv := reflect.ValueOf(value); rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		if rv.Len() == 0 {
			return emptyValue[0]
		}
	}

	switch value := value.(type) {
	case string:
		return value
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		jsonBytes, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(jsonBytes)
	}
}
