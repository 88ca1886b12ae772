// dominators.go - 支配关系与可达性
//
// 使用 Cooper、Harvey、Kennedy 的迭代算法计算直接支配者：
// 按逆后序反复求前驱支配者的交集，直到不动点。
//
// 参考文献：
// - "A Simple, Fast Dominance Algorithm" - Keith D. Cooper, Timothy J. Harvey, Ken Kennedy

package ir

// ============================================================================
// 可达性
// ============================================================================

// postOrder 从入口块出发的后序
func (p *Procedure) postOrder() []*BasicBlock {
	if len(p.Blocks) == 0 {
		return nil
	}
	visited := make([]bool, len(p.Blocks))
	var order []*BasicBlock
	type frame struct {
		block *BasicBlock
		next  int
	}
	stack := []frame{{block: p.Blocks[0]}}
	visited[0] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.block.Successors) {
			succ := top.block.Successors[top.next].Block
			top.next++
			if !visited[succ.Index] {
				visited[succ.Index] = true
				stack = append(stack, frame{block: succ})
			}
			continue
		}
		order = append(order, top.block)
		stack = stack[:len(stack)-1]
	}
	return order
}

// ResetReachability 删除入口不可达的块并重新编号，随后重算前驱
func (p *Procedure) ResetReachability() {
	reachable := make([]bool, len(p.Blocks))
	for _, b := range p.postOrder() {
		reachable[b.Index] = true
	}
	kept := p.Blocks[:0]
	for i, b := range p.Blocks {
		if reachable[i] {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(p.Blocks); i++ {
		p.Blocks[i] = nil
	}
	p.Blocks = kept
	for i, b := range p.Blocks {
		b.Index = i
	}
	p.ResetPredecessors()
}

// ============================================================================
// 支配树计算
// ============================================================================

// Dominators 支配关系
type Dominators struct {
	idom []int // 块下标 -> 直接支配者下标，不可达为 -1
	rpo  []int // 块下标 -> 逆后序编号
}

// ComputeDominators 计算支配关系，要求前驱已经是最新的
func (p *Procedure) ComputeDominators() *Dominators {
	n := len(p.Blocks)
	d := &Dominators{idom: make([]int, n), rpo: make([]int, n)}
	for i := range d.idom {
		d.idom[i] = -1
		d.rpo[i] = -1
	}
	post := p.postOrder()
	order := make([]*BasicBlock, len(post))
	for i, b := range post {
		order[len(post)-1-i] = b
	}
	for i, b := range order {
		d.rpo[b.Index] = i
	}
	if n == 0 {
		return d
	}

	// 入口块支配自己
	d.idom[0] = 0
	for changed := true; changed; {
		changed = false
		for _, b := range order[1:] {
			newIdom := -1
			for _, pred := range b.Predecessors {
				if d.idom[pred.Index] < 0 {
					continue
				}
				if newIdom < 0 {
					newIdom = pred.Index
				} else {
					newIdom = d.intersect(pred.Index, newIdom)
				}
			}
			if newIdom >= 0 && d.idom[b.Index] != newIdom {
				d.idom[b.Index] = newIdom
				changed = true
			}
		}
	}
	return d
}

// intersect 计算两个块的最近公共支配者
func (d *Dominators) intersect(b1, b2 int) int {
	for b1 != b2 {
		for d.rpo[b1] > d.rpo[b2] {
			b1 = d.idom[b1]
		}
		for d.rpo[b2] > d.rpo[b1] {
			b2 = d.idom[b2]
		}
	}
	return b1
}

// IDom 直接支配者，入口块返回自身
func (d *Dominators) IDom(b *BasicBlock) int {
	return d.idom[b.Index]
}

// Dominates a 是否支配 b
func (d *Dominators) Dominates(a, b *BasicBlock) bool {
	if d.idom[b.Index] < 0 || d.idom[a.Index] < 0 {
		return false
	}
	for i := b.Index; ; i = d.idom[i] {
		if i == a.Index {
			return true
		}
		if i == 0 {
			return false
		}
	}
}
