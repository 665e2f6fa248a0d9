// Package lower converts CIL method bodies into basic blocks of typed IR
// instructions by simulating the evaluation stack. The C++ type of every
// stack entry is tracked so pointer arithmetic, pointer comparisons, field
// accessor selection and virtual dispatch can be decided even where the IL
// itself is untyped.
package lower

import (
	"fmt"
	"sort"
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/icalls"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// Lowerer converts method bodies. One instance serves the whole module.
type Lowerer struct {
	Set    *cil.AssemblySet
	Mapper *names.Mapper
	Module *ir.Module
	ICalls *icalls.Registry
	Engine *generics.Engine
	Diags  *diag.Collector
}

// StackEntry is one simulated evaluation-stack slot. CppType may be "" when
// the IL gave no type information.
type StackEntry struct {
	Expr    string
	CppType string
}

// conv is the per-method conversion state.
type conv struct {
	l    *Lowerer
	meth *ir.Method
	def  *cil.MethodDef
	tpm  *generics.TypeParamMap

	stack []StackEntry

	blocks   map[int]*ir.BasicBlock
	order    []int
	cur      *ir.BasicBlock

	// snapshots records the entry stack at each branch target whose stack is
	// non-empty; joins replay it so ternary-shaped flows reconverge on the
	// same temporaries.
	snapshots map[int][]StackEntry

	tempN int

	// constrained carries a constrained. prefix to the following call.
	constrained *cil.TypeSig
}

// LowerBody attaches converted basic blocks to meth. tpm supplies the active
// type-parameter bindings when converting a generic specialization body; it
// is passed explicitly rather than held as lowerer state.
func (l *Lowerer) LowerBody(meth *ir.Method, def *cil.MethodDef, tpm *generics.TypeParamMap) {
	if def.Body == nil {
		return
	}
	c := &conv{
		l:         l,
		meth:      meth,
		def:       def,
		tpm:       tpm,
		blocks:    make(map[int]*ir.BasicBlock),
		snapshots: make(map[int][]StackEntry),
	}
	if meth.TempVarTypes == nil {
		meth.TempVarTypes = make(map[string]string)
	}
	c.run()
	if tpm != nil && !tpm.Empty() {
		l.resolveTypeParams(meth, tpm.Bindings())
	}
	meth.ReturnType = fallbackReturnType(meth.ReturnType)
}

func (c *conv) run() {
	body := c.def.Body
	targets := c.collectTargets(body)

	c.startBlock(0)
	for i := 0; i < len(body.Instructions); i++ {
		ins := body.Instructions[i]
		if _, isTarget := targets[ins.Offset]; isTarget && ins.Offset != 0 {
			c.joinAt(ins.Offset)
		}
		c.emitRegionMarkers(ins.Offset)
		c.lowerInstruction(ins, body, i)
	}

	sort.Ints(c.order)
	for _, off := range c.order {
		c.meth.Blocks = append(c.meth.Blocks, c.blocks[off])
	}
}

// collectTargets gathers every branch destination plus region boundaries.
func (c *conv) collectTargets(body *cil.MethodBody) map[int]bool {
	targets := map[int]bool{0: true}
	for _, ins := range body.Instructions {
		switch op := ins.Operand.(type) {
		case *cil.BranchOperand:
			targets[op.Target] = true
		case *cil.SwitchOperand:
			for _, t := range op.Targets {
				targets[t] = true
			}
		}
	}
	for _, r := range body.Regions {
		targets[r.TryStart] = true
		targets[r.HandlerStart] = true
		targets[r.HandlerEnd] = true
	}
	return targets
}

func (c *conv) startBlock(offset int) {
	if b, ok := c.blocks[offset]; ok {
		c.cur = b
		return
	}
	b := &ir.BasicBlock{ID: offset}
	c.blocks[offset] = b
	c.order = append(c.order, offset)
	c.cur = b
}

// joinAt transitions to the block at offset, reconciling the stack with any
// recorded snapshot.
func (c *conv) joinAt(offset int) {
	if snap, ok := c.snapshots[offset]; ok {
		// Falling into a join: move live values into the join temporaries.
		if len(c.stack) == len(snap) {
			for i := range snap {
				if c.stack[i].Expr != snap[i].Expr {
					c.emit(&ir.Assign{Target: snap[i].Expr, Value: c.stack[i].Expr})
				}
			}
		}
		c.stack = append([]StackEntry(nil), snap...)
	} else if len(c.stack) > 0 {
		c.recordSnapshot(offset)
		c.stack = append([]StackEntry(nil), c.snapshots[offset]...)
	} else {
		c.stack = nil
	}
	c.startBlock(offset)
}

// recordSnapshot materializes the current stack into join temporaries at a
// branch target, enabling ternary-pattern reconstruction downstream.
func (c *conv) recordSnapshot(offset int) {
	if _, ok := c.snapshots[offset]; ok {
		return
	}
	if len(c.stack) == 0 {
		return
	}
	snap := make([]StackEntry, len(c.stack))
	for i, e := range c.stack {
		tmp := c.newTemp(e.CppType)
		typ := e.CppType
		if typ == "" {
			typ = "intptr_t"
		}
		c.emit(&ir.DeclareLocal{Name: tmp, CppType: typ, Init: e.Expr})
		snap[i] = StackEntry{Expr: tmp, CppType: e.CppType}
	}
	c.snapshots[offset] = snap
}

func (c *conv) emit(ins ir.Instruction) {
	if c.cur == nil {
		c.startBlock(0)
	}
	c.cur.Append(ins)
}

func (c *conv) push(expr, cppType string) {
	c.stack = append(c.stack, StackEntry{Expr: expr, CppType: cppType})
}

func (c *conv) pop() StackEntry {
	if len(c.stack) == 0 {
		// Malformed stacks degrade to a harmless placeholder; the C++
		// compile surfaces the real problem.
		return StackEntry{Expr: "0"}
	}
	e := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return e
}

func (c *conv) popN(n int) []StackEntry {
	out := make([]StackEntry, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = c.pop()
	}
	return out
}

func (c *conv) newTemp(cppType string) string {
	name := fmt.Sprintf("__t%d", c.tempN)
	c.tempN++
	if cppType != "" {
		c.meth.TempVarTypes[name] = cppType
	}
	return name
}

// label formats a branch target label.
func label(offset int) string {
	return fmt.Sprintf("IL_%04x", offset)
}

// cppTypeOf resolves an IL signature to its C++ declaration type under the
// active type-parameter map.
func (c *conv) cppTypeOf(sig *cil.TypeSig) string {
	if sig == nil {
		return "void"
	}
	resolved := sig
	if c.tpm != nil && !c.tpm.Empty() && sig.HasGenericParams() {
		resolved = generics.Substitute(sig, c.tpm)
	}
	name := resolved.ILName()
	if strings.Contains(name, "!") {
		// An unresolved parameter survived substitution; fall back to the
		// object pointer.
		return "System_Object*"
	}
	return c.l.Mapper.CppTypeFor(name)
}

func (c *conv) cppTypeOfName(ilName string) string {
	return c.cppTypeOf(cil.ParseSig(ilName))
}

// paramName returns the C++ name for argument index, accounting for this.
func (c *conv) paramName(index int) (string, string) {
	if !c.meth.IsStatic {
		if index == 0 {
			declCpp := "System_Object"
			if c.meth.Declaring != nil {
				declCpp = c.meth.Declaring.CppName
			}
			return "__this", declCpp + "*"
		}
		index--
	}
	if index < len(c.meth.Parameters) {
		p := c.meth.Parameters[index]
		return p.CppName, p.CppType
	}
	return fmt.Sprintf("p%d", index), ""
}

func (c *conv) localName(index int) (string, string) {
	if index < len(c.meth.Locals) {
		l := c.meth.Locals[index]
		return l.CppName, l.CppType
	}
	return fmt.Sprintf("loc_%d", index), ""
}

// emitRegionMarkers opens and closes protected regions whose boundaries land
// at the given offset.
func (c *conv) emitRegionMarkers(offset int) {
	body := c.def.Body
	for _, r := range body.Regions {
		if r.TryStart == offset {
			c.emit(&ir.TryBegin{})
		}
	}
	for _, r := range body.Regions {
		if r.HandlerStart == offset {
			switch r.Kind {
			case "finally", "fault":
				c.emit(&ir.FinallyBegin{})
			default:
				exCpp := "System_Object*"
				if r.CatchType != "" {
					if alias := names.ExceptionAlias(r.CatchType); alias != "" {
						exCpp = alias + "*"
					} else {
						exCpp = c.cppTypeOfName(r.CatchType)
					}
				}
				v := c.newTemp(exCpp)
				c.emit(&ir.CatchBegin{ExceptionTypeCpp: exCpp, Var: v})
				c.stack = []StackEntry{{Expr: v, CppType: exCpp}}
			}
		}
		if r.HandlerEnd == offset {
			c.emit(&ir.RegionEnd{})
		}
	}
}
