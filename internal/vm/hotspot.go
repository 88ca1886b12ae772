package vm

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tangzhangming/novaomg/internal/jit"
)

// ============================================================================
// 热点检测
// ============================================================================
//
// 生成的代码自己维护计数器，计数器到达 0 时才进入运行时：
//   - 函数入口触发：记录一次并把计数器重置为 -Threshold
//   - 循环头触发：同样重置计数器；允许 OSR 时为该循环编译 OSR 版本，
//     并把当前激活迁移过去

// FunctionProfile 函数的分层记录
type FunctionProfile struct {
	Function      uint32            `json:"function"`
	EntryTriggers uint32            `json:"entryTriggers"`
	LoopTriggers  map[uint32]uint32 `json:"loopTriggers,omitempty"`
	OSREntries    uint32            `json:"osrEntries"`
}

// HotspotStats 汇总
type HotspotStats struct {
	EntryTriggers uint32 `json:"entryTriggers"`
	LoopTriggers  uint32 `json:"loopTriggers"`
	OSREntries    uint32 `json:"osrEntries"`
	OSRFailures   uint32 `json:"osrFailures"`
}

// HotspotDetector 热点检测器
type HotspotDetector struct {
	vm         *VM
	osrEnabled bool
	log        *zap.Logger

	mu       sync.Mutex
	profiles map[uint32]*FunctionProfile
	stats    HotspotStats
}

// NewHotspotDetector 创建热点检测器
func NewHotspotDetector(vm *VM, osrEnabled bool) *HotspotDetector {
	return &HotspotDetector{
		vm:         vm,
		osrEnabled: osrEnabled,
		log:        vm.log,
		profiles:   make(map[uint32]*FunctionProfile),
	}
}

func (hd *HotspotDetector) getOrCreateProfile(fn uint32) *FunctionProfile {
	p, ok := hd.profiles[fn]
	if !ok {
		p = &FunctionProfile{Function: fn, LoopTriggers: make(map[uint32]uint32)}
		hd.profiles[fn] = p
	}
	return p
}

// resetCounter 把 addr 处的计数器重置为 -Threshold
func (hd *HotspotDetector) resetCounter(addr uint64) {
	hd.vm.space.putU32(addr, uint32(-hd.vm.opts.TierUp.Threshold))
}

// RecordEntryTrigger 函数入口计数器到达阈值
func (hd *HotspotDetector) RecordEntryTrigger(fn uint32) {
	hd.mu.Lock()
	hd.getOrCreateProfile(fn).EntryTriggers++
	hd.stats.EntryTriggers++
	hd.mu.Unlock()

	hd.vm.compiler.TierUpCount(fn).EntryTriggers.Inc()
	hd.resetCounter(hd.vm.inst.counters + uint64(4*hd.vm.info.ToInternalIndex(fn)))
	hd.log.Debug("entry tier-up trigger", zap.Uint32("function", fn))
}

// RecordLoopTrigger 循环头计数器到达阈值，返回是否应当进行 OSR
func (hd *HotspotDetector) RecordLoopTrigger(fn, loop uint32, counter uint64) bool {
	hd.mu.Lock()
	hd.getOrCreateProfile(fn).LoopTriggers[loop]++
	hd.stats.LoopTriggers++
	hd.mu.Unlock()

	hd.vm.compiler.TierUpCount(fn).LoopTriggers.Inc()
	hd.resetCounter(counter)
	hd.log.Debug("loop tier-up trigger", zap.Uint32("function", fn), zap.Uint32("loop", loop))
	return hd.osrEnabled
}

// MarkOSREntry 记录一次 OSR 迁移或失败
func (hd *HotspotDetector) MarkOSREntry(fn uint32, ok bool) {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	if !ok {
		hd.stats.OSRFailures++
		return
	}
	hd.getOrCreateProfile(fn).OSREntries++
	hd.stats.OSREntries++
}

// Profile 函数的记录副本
func (hd *HotspotDetector) Profile(fn uint32) (FunctionProfile, bool) {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	p, ok := hd.profiles[fn]
	if !ok {
		return FunctionProfile{Function: fn}, false
	}
	cp := *p
	cp.LoopTriggers = make(map[uint32]uint32, len(p.LoopTriggers))
	for k, v := range p.LoopTriggers {
		cp.LoopTriggers[k] = v
	}
	return cp, true
}

// HotFunctions 触发过分层的函数，按函数索引排序
func (hd *HotspotDetector) HotFunctions() []uint32 {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	out := make([]uint32, 0, len(hd.profiles))
	for fn := range hd.profiles {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats 汇总
func (hd *HotspotDetector) Stats() HotspotStats {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.stats
}

// osrCode 取得（必要时编译）函数在该循环的 OSR 版本
func (hd *HotspotDetector) osrCode(fn, loop uint32) (*jit.CompilationResult, error) {
	key := osrKey{fn, loop}
	hd.mu.Lock()
	res, ok := hd.vm.osr[key]
	hd.mu.Unlock()
	if ok {
		return res, nil
	}
	res, err := hd.vm.compiler.CompileOSREntry(hd.vm.ctx, fn, loop)
	if err != nil {
		return nil, err
	}
	hd.mu.Lock()
	hd.vm.osr[key] = res
	hd.mu.Unlock()
	hd.vm.register(res)
	return res, nil
}

type osrKey struct {
	function, loop uint32
}
