package interp

import (
	"fmt"
	"sort"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// Names of the objects used when a test does not say otherwise.
const (
	DefaultComparator  = "i;ascii-casemap"
	DefaultMatchType   = "is"
	DefaultAddressPart = "all"
)

type objectKey struct {
	ext  int
	code uint64
}

type objectTable struct {
	byName map[string]Object
	byCode map[objectKey]Object
}

// Registry holds the extensions, objects and core operations known to the
// process. It is filled once during setup, sealed, and only read after that;
// it is not safe for concurrent registration.
type Registry struct {
	exts    []*Extension
	byName  map[string]*Extension
	core    map[uint64]*Operation
	objects [numClasses]objectTable
	sealed  bool
}

// NewRegistry returns a registry holding the core objects and the control
// flow operations.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*Extension),
		core:   make(map[uint64]*Operation),
	}
	for i := range r.objects {
		r.objects[i] = objectTable{
			byName: make(map[string]Object),
			byCode: make(map[objectKey]Object),
		}
	}
	for _, obj := range coreObjects() {
		if err := r.RegisterObject(nil, obj); err != nil {
			panic(err)
		}
	}
	for _, op := range controlOperations {
		if err := r.RegisterCoreOperation(op); err != nil {
			panic(err)
		}
	}
	return r
}

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool { return r.sealed }

// RegisterExtension adds an extension. Registering a name twice returns the
// extension registered first.
func (r *Registry) RegisterExtension(def *ExtensionDef) (*Extension, error) {
	if ext, ok := r.byName[def.Name]; ok {
		return ext, nil
	}
	if r.sealed {
		return nil, fmt.Errorf("register extension %q: %w", def.Name, ErrRegistrySealed)
	}
	for i, op := range def.Operations {
		if op == nil || op.Code != uint64(i) {
			return nil, fmt.Errorf("extension %q: operation %d has the wrong code", def.Name, i)
		}
	}
	ext := &Extension{ID: len(r.exts), Def: def}
	r.exts = append(r.exts, ext)
	r.byName[def.Name] = ext
	return ext, nil
}

// Extension looks an extension up by name.
func (r *Registry) Extension(name string) (*Extension, bool) {
	ext, ok := r.byName[name]
	return ext, ok
}

// ExtensionAt returns the extension with the given registry index.
func (r *Registry) ExtensionAt(id int) (*Extension, bool) {
	if id < 0 || id >= len(r.exts) {
		return nil, false
	}
	return r.exts[id], true
}

// Extensions returns every registered extension in registration order.
func (r *Registry) Extensions() []*Extension { return r.exts }

// ExtensionNames returns the sorted names of all registered extensions.
func (r *Registry) ExtensionNames() []string {
	names := make([]string, 0, len(r.exts))
	for _, ext := range r.exts {
		names = append(names, ext.Def.Name)
	}
	sort.Strings(names)
	return names
}

// RegisterObject adds an object owned by ext, or a core object when ext is
// nil. Object names are unique per class; codes are unique per extension.
func (r *Registry) RegisterObject(ext *Extension, obj Object) error {
	def := obj.Def()
	if r.sealed {
		return fmt.Errorf("register %s %q: %w", def.Class, def.Name, ErrRegistrySealed)
	}
	if def.Class < 0 || def.Class >= numClasses {
		return fmt.Errorf("register %q: invalid class %d", def.Name, def.Class)
	}
	extID := -1
	if ext != nil {
		extID = ext.ID
	}
	table := r.objects[def.Class]
	key := objectKey{ext: extID, code: def.Code}
	if _, dup := table.byName[def.Name]; dup {
		return fmt.Errorf("%s %q: %w", def.Class, def.Name, ErrDuplicateObject)
	}
	if _, dup := table.byCode[key]; dup {
		return fmt.Errorf("%s code %d: %w", def.Class, def.Code, ErrDuplicateObject)
	}
	def.ExtID = extID
	table.byName[def.Name] = obj
	table.byCode[key] = obj
	return nil
}

// LookupObject finds an object by class and name.
func (r *Registry) LookupObject(class ObjectClass, name string) (Object, bool) {
	if class < 0 || class >= numClasses {
		return nil, false
	}
	obj, ok := r.objects[class].byName[name]
	return obj, ok
}

// Comparator returns the named comparator.
func (r *Registry) Comparator(name string) (*ComparatorDef, bool) {
	obj, ok := r.LookupObject(ClassComparator, name)
	if !ok {
		return nil, false
	}
	cmp, ok := obj.(*ComparatorDef)
	return cmp, ok
}

// MatchType returns the named match type.
func (r *Registry) MatchType(name string) (*MatchTypeDef, bool) {
	obj, ok := r.LookupObject(ClassMatchType, name)
	if !ok {
		return nil, false
	}
	mt, ok := obj.(*MatchTypeDef)
	return mt, ok
}

// AddressPart returns the named address part.
func (r *Registry) AddressPart(name string) (*AddressPartDef, bool) {
	obj, ok := r.LookupObject(ClassAddressPart, name)
	if !ok {
		return nil, false
	}
	ap, ok := obj.(*AddressPartDef)
	return ap, ok
}

func (r *Registry) objectByCode(class ObjectClass, extID int, code uint64) (Object, bool) {
	obj, ok := r.objects[class].byCode[objectKey{ext: extID, code: code}]
	return obj, ok
}

// RegisterCoreOperation adds an operation to the core opcode table.
func (r *Registry) RegisterCoreOperation(op *Operation) error {
	if r.sealed {
		return fmt.Errorf("register %s: %w", op.Mnemonic, ErrRegistrySealed)
	}
	if op.Code == 0 || op.Code > maxCoreOpcode {
		return fmt.Errorf("core opcode %d for %s out of range", op.Code, op.Mnemonic)
	}
	if prev, dup := r.core[op.Code]; dup && prev != op {
		return fmt.Errorf("core opcode %d (%s, %s): %w", op.Code, prev.Mnemonic, op.Mnemonic, ErrDuplicateOperation)
	}
	r.core[op.Code] = op
	return nil
}

// CoreOperation returns the core operation with the given opcode.
func (r *Registry) CoreOperation(code uint64) (*Operation, bool) {
	op, ok := r.core[code]
	return op, ok
}

// ResolveExtension implements bytecode.ExtensionResolver.
func (r *Registry) ResolveExtension(name string, version uint64) (int, error) {
	ext, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%q is not registered: %w", name, bytecode.ErrUnsupportedExtension)
	}
	if ext.Def.Version != version {
		return 0, fmt.Errorf("%q version %d, registered %d: %w",
			name, version, ext.Def.Version, bytecode.ErrUnsupportedExtension)
	}
	return ext.ID, nil
}

// Load parses a serialized binary and prepares it for execution.
func (r *Registry) Load(raw []byte) (*Program, error) {
	bin, err := bytecode.Load(raw, r)
	if err != nil {
		return nil, err
	}
	return r.Program(bin)
}

// Program prepares a finalized binary for execution and dumping.
func (r *Registry) Program(bin *bytecode.Binary) (*Program, error) {
	if !bin.Finalized() {
		return nil, bytecode.ErrNotFinalized
	}
	p := &Program{
		reg:  r,
		bin:  bin,
		exts: make(map[uint64]*Extension, len(bin.Extensions())),
		data: make(map[int]any),
	}
	for _, linked := range bin.Extensions() {
		ext, ok := r.ExtensionAt(linked.Handle)
		if !ok || ext.Def.Name != linked.Name {
			return nil, fmt.Errorf("extension %q: %w", linked.Name, bytecode.ErrUnsupportedExtension)
		}
		p.exts[linked.LocalID] = ext
		p.order = append(p.order, ext)
		if ext.Def.LoadBinary != nil {
			data, err := ext.Def.LoadBinary(ext, linked.Block)
			if err != nil {
				return nil, fmt.Errorf("load extension %q data: %w", linked.Name, err)
			}
			p.data[ext.ID] = data
		}
	}
	p.debug, p.debugErr = bytecode.NewDebugReader(bin.DebugBlock())
	return p, nil
}

// Program is a binary resolved against a registry. It is immutable and may
// be run by any number of interpreters at once.
type Program struct {
	reg      *Registry
	bin      *bytecode.Binary
	exts     map[uint64]*Extension
	order    []*Extension
	data     map[int]any
	debug    *bytecode.DebugReader
	debugErr error
}

func (p *Program) Registry() *Registry       { return p.reg }
func (p *Program) Binary() *bytecode.Binary  { return p.bin }
func (p *Program) Code() *bytecode.Block     { return p.bin.Main() }
func (p *Program) Extensions() []*Extension  { return p.order }
func (p *Program) DebugError() error         { return p.debugErr }

// LineAt returns the source line of the operation at a, or 0.
func (p *Program) LineAt(a bytecode.Address) int { return p.debug.LineAt(a) }

// ExtensionData returns what the extension's LoadBinary hook produced.
func (p *Program) ExtensionData(ext *Extension) any { return p.data[ext.ID] }

// Extension maps a binary-local extension id to the registered extension.
func (p *Program) Extension(localID uint64) (*Extension, bool) {
	ext, ok := p.exts[localID]
	return ext, ok
}

// Object resolves an object operand through the binary's extension table.
func (p *Program) Object(op bytecode.Operand) (Object, error) {
	class, ok := classOf(op.Code)
	if !ok {
		return nil, fmt.Errorf("operand at %d is %s: %w", op.Address, op.Code, bytecode.ErrBadOperand)
	}
	extID := -1
	if op.Ext != 0 {
		ext, ok := p.exts[op.Ext]
		if !ok {
			return nil, fmt.Errorf("%s at %d: extension %d not linked: %w", class, op.Address, op.Ext, bytecode.ErrUnknownObject)
		}
		extID = ext.ID
	}
	obj, ok := p.reg.objectByCode(class, extID, op.Object)
	if !ok {
		return nil, fmt.Errorf("%s at %d: code %d: %w", class, op.Address, op.Object, bytecode.ErrUnknownObject)
	}
	return obj, nil
}

// Operation decodes the opcode at pos.
func (p *Program) Operation(pos *bytecode.Address) (OpInstance, error) {
	start := *pos
	localExt, code, err := readOpcode(p.Code(), pos)
	if err != nil {
		return OpInstance{}, err
	}
	inst := OpInstance{Address: start}
	if localExt == 0 {
		op, ok := p.reg.core[code]
		if !ok {
			*pos = start
			return OpInstance{}, fmt.Errorf("core opcode %d at %08x: %w", code, start, ErrInvalidOpcode)
		}
		inst.Def = op
		return inst, nil
	}
	ext, ok := p.exts[localExt]
	if !ok {
		*pos = start
		return OpInstance{}, fmt.Errorf("extension %d at %08x not linked: %w", localExt, start, ErrInvalidOpcode)
	}
	op, ok := ext.Operation(code)
	if !ok {
		*pos = start
		return OpInstance{}, fmt.Errorf("%s opcode %d at %08x: %w", ext.Def.Name, code, start, ErrInvalidOpcode)
	}
	inst.Def, inst.Ext = op, ext
	return inst, nil
}
