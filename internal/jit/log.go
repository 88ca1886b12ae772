// log.go - 生成器日志

package jit

import (
	"go.uber.org/zap"
)

// traceCF 控制流追踪，只在 Debug 级别输出
func (g *OMGIRGenerator) traceCF(msg string, fields ...zap.Field) {
	if ce := g.log.Check(zap.DebugLevel, msg); ce != nil {
		base := []zap.Field{
			zap.Uint32("function", g.functionIndex),
			zap.Uint32("offset", g.parser.CurrentOffset()),
			zap.Uint32("depth", g.inlineDepth),
			zap.Int("block", g.currentBlock.Index),
		}
		ce.Write(append(base, fields...)...)
	}
}

// controlField 控制结构的日志字段
func controlField(c *ControlData) zap.Field {
	return zap.Stringer("control", c)
}
