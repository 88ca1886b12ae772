// dump.go - 编译结果的 JSON 摘要

package jit

import (
	"io"
	"sort"

	"github.com/segmentio/encoding/json"
)

// ResultSummary 一个编译结果的摘要
type ResultSummary struct {
	Function      uint32            `json:"function"`
	OSRLoop       *int64            `json:"osrLoop,omitempty"`
	Entrypoints   int               `json:"entrypoints"`
	Blocks        int               `json:"blocks"`
	Values        int               `json:"values"`
	Variables     int               `json:"variables"`
	CallSites     uint32            `json:"callSites"`
	StackCheck    *uint32           `json:"stackCheck,omitempty"`
	UsesSIMD      bool              `json:"usesSIMD,omitempty"`
	Handlers      []HandlerInfo     `json:"handlers,omitempty"`
	UnlinkedCalls []UnlinkedCall    `json:"unlinkedCalls,omitempty"`
	CallTargets   map[uint32]uint64 `json:"callTargets,omitempty"`
	CodeOrigins   []CodeOrigin      `json:"codeOrigins,omitempty"`
	ScratchBuffer uint32            `json:"osrScratchBuffer,omitempty"`
	IR            string            `json:"ir,omitempty"`
}

// Summarize 生成摘要，withIR 为真时附带 IR 文本
func (r *CompilationResult) Summarize(withIR bool) ResultSummary {
	s := ResultSummary{
		Function:      r.FunctionIndex,
		Entrypoints:   r.Procedure.NumEntrypoints,
		Blocks:        len(r.Procedure.Blocks),
		Values:        r.Procedure.ValueCount(),
		Variables:     len(r.Procedure.Variables),
		CallSites:     r.CallSiteCount,
		UsesSIMD:      r.UsesSIMD,
		Handlers:      r.Handlers,
		UnlinkedCalls: r.UnlinkedCalls,
		CallTargets:   r.CallTargets,
		CodeOrigins:   r.CodeOrigins,
		ScratchBuffer: r.OSREntryScratchBufferSize,
	}
	if r.IsOSREntry() {
		loop := r.LoopIndexForOSREntry
		s.OSRLoop = &loop
	}
	if r.HasStackCheck {
		size := r.StackCheckSize
		s.StackCheck = &size
	}
	if withIR {
		s.IR = r.Procedure.String()
	}
	return s
}

// ModuleDump 整个模块的摘要
type ModuleDump struct {
	Functions []ResultSummary `json:"functions"`
	Group     GroupStats      `json:"group"`
}

// DumpJSON 把结果按函数序号写成缩进的 JSON
func DumpJSON(w io.Writer, group *CalleeGroup, results []*CompilationResult, withIR bool) error {
	sorted := append([]*CompilationResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FunctionIndex < sorted[j].FunctionIndex })
	d := ModuleDump{Functions: make([]ResultSummary, 0, len(sorted))}
	for _, r := range sorted {
		d.Functions = append(d.Functions, r.Summarize(withIR))
	}
	if group != nil {
		d.Group = group.Stats()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
