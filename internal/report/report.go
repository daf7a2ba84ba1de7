// Package report renders analysis results for people: an xlsx score
// matrix for spreadsheet work and a plain-text summary for the terminal.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/Samweli/GEEST/internal/model"
)

// column is one score column of the matrix, in hierarchy order.
type column struct {
	ID   string
	Name string
	Kind model.NodeKind
}

// matrixColumns lists the score columns in declaration order: each
// dimension followed by its factors and their indicators.
func matrixColumns(h model.Hierarchy) []column {
	var cols []column
	for _, d := range h.Dimensions {
		cols = append(cols, column{ID: d.ID, Name: d.Name, Kind: model.KindDimension})
		for _, f := range d.Factors {
			cols = append(cols, column{ID: f.ID, Name: f.Name, Kind: model.KindFactor})
			for _, ind := range f.Indicators {
				cols = append(cols, column{ID: ind.ID, Name: ind.Name, Kind: model.KindIndicator})
			}
		}
	}
	return cols
}

// scoreIndex flattens a feature's score tree into node-id lookups.
func scoreIndex(fr *model.FeatureResult) map[string]model.Score {
	idx := make(map[string]model.Score)
	var walk func(ns model.NodeScore)
	walk = func(ns model.NodeScore) {
		idx[ns.NodeID] = ns.Score
		for _, c := range ns.Children {
			walk(c)
		}
	}
	for _, d := range fr.Dimensions {
		walk(d)
	}
	return idx
}

// WriteXLSX writes the score matrix workbook to path. The Scores sheet
// holds one row per feature and one column per hierarchy node (overall
// first); no-data scores render as empty cells. A Hierarchy sheet lists
// the node table and a Warnings sheet lists every absorbed failure.
func WriteXLSX(path string, h model.Hierarchy, res *model.Result) error {
	if res == nil {
		return eris.New("report: nil result")
	}

	f := xlsx.NewFile()

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.ApplyFont = true

	cols := matrixColumns(h)

	scores, err := f.AddSheet("Scores")
	if err != nil {
		return eris.Wrap(err, "report: add scores sheet")
	}
	header := scores.AddRow()
	for _, name := range append([]string{"Feature", "Overall"}, names(cols)...) {
		cell := header.AddCell()
		cell.SetString(name)
		cell.SetStyle(headerStyle)
	}

	features := make([]model.FeatureResult, len(res.Features))
	copy(features, res.Features)
	sort.Slice(features, func(i, j int) bool { return features[i].FeatureID < features[j].FeatureID })

	for i := range features {
		fr := &features[i]
		idx := scoreIndex(fr)

		row := scores.AddRow()
		row.AddCell().SetString(fr.FeatureID)
		writeScore(row, fr.Overall)
		for _, col := range cols {
			sc, ok := idx[col.ID]
			if !ok {
				sc = model.NoDataScore()
			}
			writeScore(row, sc)
		}
	}

	nodes, err := f.AddSheet("Hierarchy")
	if err != nil {
		return eris.Wrap(err, "report: add hierarchy sheet")
	}
	header = nodes.AddRow()
	for _, name := range []string{"ID", "Name", "Kind", "Weight", "Method", "Source"} {
		cell := header.AddCell()
		cell.SetString(name)
		cell.SetStyle(headerStyle)
	}
	for _, d := range h.Dimensions {
		writeNode(nodes, d.ID, d.Name, model.KindDimension, d.Weight, "", "")
		for _, fc := range d.Factors {
			writeNode(nodes, fc.ID, fc.Name, model.KindFactor, fc.Weight, "", "")
			for _, ind := range fc.Indicators {
				writeNode(nodes, ind.ID, ind.Name, model.KindIndicator, ind.Weight, string(ind.Method), ind.Source)
			}
		}
	}

	warns, err := f.AddSheet("Warnings")
	if err != nil {
		return eris.Wrap(err, "report: add warnings sheet")
	}
	header = warns.AddRow()
	for _, name := range []string{"Feature", "Node", "Kind", "Message"} {
		cell := header.AddCell()
		cell.SetString(name)
		cell.SetStyle(headerStyle)
	}
	for _, w := range res.Warnings {
		row := warns.AddRow()
		row.AddCell().SetString(w.FeatureID)
		row.AddCell().SetString(w.NodeID)
		row.AddCell().SetString(string(w.Kind))
		row.AddCell().SetString(w.Message)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func names(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func writeScore(row *xlsx.Row, s model.Score) {
	cell := row.AddCell()
	if s.NoData {
		return
	}
	cell.SetFloatWithFormat(s.Value, "0.000")
}

func writeNode(sheet *xlsx.Sheet, id, name string, kind model.NodeKind, weight float64, method, source string) {
	row := sheet.AddRow()
	row.AddCell().SetString(id)
	row.AddCell().SetString(name)
	row.AddCell().SetString(string(kind))
	row.AddCell().SetFloatWithFormat(weight, "0.00")
	row.AddCell().SetString(method)
	row.AddCell().SetString(source)
}

// Summary renders a plain-text report of a run: headline counts, the
// per-dimension means across features, and a ranking by overall index.
func Summary(h model.Hierarchy, res *model.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Analysis Report: %s\n", res.Project)
	fmt.Fprintf(&b, "Run: %s\n\n", res.RunID)

	overall, contributors, nodata := meanOverall(res)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Features scored: %d\n", len(res.Features))
	if contributors > 0 {
		fmt.Fprintf(&b, "- Overall mean: %.3f (%d features, %d no data)\n", overall, contributors, nodata)
	} else {
		fmt.Fprintf(&b, "- Overall mean: no data (%d features)\n", len(res.Features))
	}
	fmt.Fprintf(&b, "- Warnings: %d\n\n", len(res.Warnings))

	b.WriteString("## Dimensions\n")
	for _, d := range h.Dimensions {
		mean, n, missing := meanNode(res, d.ID)
		if n > 0 {
			fmt.Fprintf(&b, "- %s: mean %.3f (%d features, %d no data)\n", d.Name, mean, n, missing)
		} else {
			fmt.Fprintf(&b, "- %s: no data\n", d.Name)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Features\n")
	if len(res.Features) == 0 {
		b.WriteString("No features scored.\n")
	} else {
		ranked := make([]model.FeatureResult, len(res.Features))
		copy(ranked, res.Features)
		sort.Slice(ranked, func(i, j int) bool {
			a, z := ranked[i], ranked[j]
			if a.Overall.NoData != z.Overall.NoData {
				return !a.Overall.NoData
			}
			if a.Overall.Value != z.Overall.Value {
				return a.Overall.Value > z.Overall.Value
			}
			return a.FeatureID < z.FeatureID
		})
		for _, fr := range ranked {
			if fr.Overall.NoData {
				fmt.Fprintf(&b, "- %s: no data\n", fr.FeatureID)
			} else {
				fmt.Fprintf(&b, "- %s: %.3f\n", fr.FeatureID, fr.Overall.Value)
			}
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n")
		for _, w := range res.Warnings {
			where := w.FeatureID
			if w.NodeID != "" {
				where += "/" + w.NodeID
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", w.Kind, where, w.Message)
		}
	}

	return b.String()
}

func meanOverall(res *model.Result) (mean float64, contributors, nodata int) {
	var sum float64
	for _, fr := range res.Features {
		if fr.Overall.NoData {
			nodata++
			continue
		}
		sum += fr.Overall.Value
		contributors++
	}
	if contributors > 0 {
		mean = sum / float64(contributors)
	}
	return mean, contributors, nodata
}

func meanNode(res *model.Result, nodeID string) (mean float64, contributors, nodata int) {
	var sum float64
	for i := range res.Features {
		ns := res.Features[i].Node(nodeID)
		if ns == nil || ns.Score.NoData {
			nodata++
			continue
		}
		sum += ns.Score.Value
		contributors++
	}
	if contributors > 0 {
		mean = sum / float64(contributors)
	}
	return mean, contributors, nodata
}
