package pathfinder

import (
	"encoding/xml"
	"io"
)

// FFX output: the flow-facts document consumed by the downstream timing
// analyzer. Each infeasible path is listed as an ordered sequence of
// edges under its enclosing call/loop structure.

type ffxDocument struct {
	XMLName   xml.Name      `xml:"flowfacts"`
	Functions []ffxFunction `xml:"function"`
}

type ffxFunction struct {
	Name  string    `xml:"name,attr"`
	Paths []ffxPath `xml:"not-all"`
}

type ffxPath struct {
	Seq   bool      `xml:"seq,attr"`
	Items []ffxItem `xml:",any"`
}

type ffxItem struct {
	XMLName xml.Name
	Source  *int `xml:"source,attr,omitempty"`
	Target  *int `xml:"target,attr,omitempty"`
	Header  *int `xml:"header,attr,omitempty"`
	Block   *int `xml:"block,attr,omitempty"`
}

func ffxEdge(e *Edge) ffxItem {
	src, dst := e.Source().Index(), e.Target().Index()
	return ffxItem{XMLName: xml.Name{Local: "edge"}, Source: &src, Target: &dst}
}

func ffxMarker(name string, b *Block) ffxItem {
	idx := b.Index()
	switch name {
	case "call", "return":
		return ffxItem{XMLName: xml.Name{Local: name}, Block: &idx}
	default:
		return ffxItem{XMLName: xml.Name{Local: name}, Header: &idx}
	}
}

// WriteFFX writes the infeasible paths of a run as an FFX document,
// grouped by the function each path belongs to.
func WriteFFX(w io.Writer, paths []DetailedPath) error {
	byFn := make(map[*CFG]*ffxFunction)
	var order []*CFG
	for _, p := range paths {
		fn := p.Function()
		if fn == nil {
			continue
		}
		f, ok := byFn[fn]
		if !ok {
			f = &ffxFunction{Name: fn.Name()}
			byFn[fn] = f
			order = append(order, fn)
		}

		fp := ffxPath{Seq: true}
		for _, it := range p.Items() {
			switch {
			case it.IsEdge():
				fp.Items = append(fp.Items, ffxEdge(it.Edge()))
			case it.kind == flowLoopEntry:
				fp.Items = append(fp.Items, ffxMarker("loop-entry", it.block))
			case it.kind == flowLoopExit:
				fp.Items = append(fp.Items, ffxMarker("loop-exit", it.block))
			case it.kind == flowCall:
				fp.Items = append(fp.Items, ffxMarker("call", it.block))
			case it.kind == flowReturn:
				fp.Items = append(fp.Items, ffxMarker("return", it.block))
			}
		}
		f.Paths = append(f.Paths, fp)
	}

	doc := ffxDocument{}
	for _, fn := range order {
		doc.Functions = append(doc.Functions, *byFn[fn])
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
