package snaketongs

// operatorTable maps the fixed, enumerated set of overloadable operations
// (§4.6, §9 "Operator overloads vs. opcodes") to the remote `operator`
// module function that implements them. Arithmetic is deliberately absent
// from the wire protocol; every use of an entry here is realized as a
// Global lookup followed by a Call, and the looked-up function is dropped
// again after the call.
//
// Go has no operator overloading, so the original C++ host-language
// sugar (the `a * *b` spelling for exponentiation, to dodge a clash with
// binary `*`) has no analogue here and is dropped; Pow is just a normal
// method (see DESIGN.md, Open Questions).
var operatorTable = map[string]string{
	"add":      "operator.add",
	"sub":      "operator.sub",
	"mul":      "operator.mul",
	"truediv":  "operator.truediv",
	"floordiv": "operator.floordiv",
	"mod":      "operator.mod",
	"pow":      "operator.pow",
	"matmul":   "operator.matmul",
	"lshift":   "operator.lshift",
	"rshift":   "operator.rshift",
	"and":      "operator.and_",
	"or":       "operator.or_",
	"xor":      "operator.xor",
	"neg":      "operator.neg",
	"pos":      "operator.pos",
	"invert":   "operator.invert",
	"not":      "operator.not_",
	"lt":       "operator.lt",
	"le":       "operator.le",
	"eq":       "operator.eq",
	"ne":       "operator.ne",
	"ge":       "operator.ge",
	"gt":       "operator.gt",
	"iadd":     "operator.iadd",
	"isub":     "operator.isub",
	"imul":     "operator.imul",
	"itruediv": "operator.itruediv",
	"ifloordiv": "operator.ifloordiv",
	"imod":     "operator.imod",
	"ipow":     "operator.ipow",
	"imatmul":  "operator.imatmul",
}

// binaryOp looks up operatorTable[name] and calls it with (lhs, rhs).
func (b *Bridge) binaryOp(name string, lhs, rhs *Proxy) (*Proxy, error) {
	qualified, ok := operatorTable[name]
	if !ok {
		return nil, &protocolError{detail: "unknown operator " + name}
	}
	fn, err := b.Global(qualified)
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	return b.Call(fn, lhs, rhs)
}

// unaryOp looks up operatorTable[name] and calls it with (operand).
func (b *Bridge) unaryOp(name string, operand *Proxy) (*Proxy, error) {
	qualified, ok := operatorTable[name]
	if !ok {
		return nil, &protocolError{detail: "unknown operator " + name}
	}
	fn, err := b.Global(qualified)
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	return b.Call(fn, operand)
}

func (b *Bridge) Add(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("add", lhs, rhs) }
func (b *Bridge) Sub(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("sub", lhs, rhs) }
func (b *Bridge) Mul(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("mul", lhs, rhs) }
func (b *Bridge) TrueDiv(lhs, rhs *Proxy) (*Proxy, error)  { return b.binaryOp("truediv", lhs, rhs) }
func (b *Bridge) FloorDiv(lhs, rhs *Proxy) (*Proxy, error) { return b.binaryOp("floordiv", lhs, rhs) }
func (b *Bridge) Mod(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("mod", lhs, rhs) }
func (b *Bridge) Pow(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("pow", lhs, rhs) }
func (b *Bridge) MatMul(lhs, rhs *Proxy) (*Proxy, error)   { return b.binaryOp("matmul", lhs, rhs) }
func (b *Bridge) LShift(lhs, rhs *Proxy) (*Proxy, error)   { return b.binaryOp("lshift", lhs, rhs) }
func (b *Bridge) RShift(lhs, rhs *Proxy) (*Proxy, error)   { return b.binaryOp("rshift", lhs, rhs) }
func (b *Bridge) And(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("and", lhs, rhs) }
func (b *Bridge) Or(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("or", lhs, rhs) }
func (b *Bridge) Xor(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("xor", lhs, rhs) }
func (b *Bridge) Lt(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("lt", lhs, rhs) }
func (b *Bridge) Le(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("le", lhs, rhs) }
func (b *Bridge) Eq(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("eq", lhs, rhs) }
func (b *Bridge) Ne(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("ne", lhs, rhs) }
func (b *Bridge) Ge(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("ge", lhs, rhs) }
func (b *Bridge) Gt(lhs, rhs *Proxy) (*Proxy, error)       { return b.binaryOp("gt", lhs, rhs) }

func (b *Bridge) IAdd(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("iadd", lhs, rhs) }
func (b *Bridge) ISub(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("isub", lhs, rhs) }
func (b *Bridge) IMul(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("imul", lhs, rhs) }
func (b *Bridge) ITrueDiv(lhs, rhs *Proxy) (*Proxy, error)  { return b.binaryOp("itruediv", lhs, rhs) }
func (b *Bridge) IFloorDiv(lhs, rhs *Proxy) (*Proxy, error) { return b.binaryOp("ifloordiv", lhs, rhs) }
func (b *Bridge) IMod(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("imod", lhs, rhs) }
func (b *Bridge) IPow(lhs, rhs *Proxy) (*Proxy, error)      { return b.binaryOp("ipow", lhs, rhs) }
func (b *Bridge) IMatMul(lhs, rhs *Proxy) (*Proxy, error)   { return b.binaryOp("imatmul", lhs, rhs) }

func (b *Bridge) Neg(operand *Proxy) (*Proxy, error)    { return b.unaryOp("neg", operand) }
func (b *Bridge) Pos(operand *Proxy) (*Proxy, error)    { return b.unaryOp("pos", operand) }
func (b *Bridge) Invert(operand *Proxy) (*Proxy, error) { return b.unaryOp("invert", operand) }
func (b *Bridge) Not(operand *Proxy) (*Proxy, error)    { return b.unaryOp("not", operand) }
