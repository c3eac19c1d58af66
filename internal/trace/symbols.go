package trace

import (
	"sync"
)

// SymbolRegistry interns strings and method triples as small integers.
// IDs are unique within one registry; two registries never share numbering.
type SymbolRegistry struct {
	mu sync.RWMutex

	names   map[int]string
	ids     map[string]int
	methods map[int]MethodDef
	mids    map[MethodDef]int

	lastSymbol int
	lastMethod int
}

// NewSymbolRegistry creates an empty registry.
func NewSymbolRegistry() *SymbolRegistry {
	r := &SymbolRegistry{}
	r.init()
	return r
}

func (r *SymbolRegistry) init() {
	r.names = make(map[int]string)
	r.ids = make(map[string]int)
	r.methods = make(map[int]MethodDef)
	r.mids = make(map[MethodDef]int)
	r.lastSymbol = 0
	r.lastMethod = 0
}

// SymbolID returns the ID of name, interning it on first use.
func (r *SymbolRegistry) SymbolID(name string) int {
	if name == "" {
		return 0
	}

	r.mu.RLock()
	sid, ok := r.ids[name]
	r.mu.RUnlock()
	if ok {
		return sid
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.ids[name]; ok {
		return sid
	}
	r.lastSymbol++
	r.names[r.lastSymbol] = name
	r.ids[name] = r.lastSymbol
	return r.lastSymbol
}

// PutSymbol records a symbol under an externally assigned ID. Redefining an
// ID with the same name is a no-op.
func (r *SymbolRegistry) PutSymbol(sid int, name string) {
	if sid <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.names[sid]; ok && old != name {
		delete(r.ids, old)
	}
	r.names[sid] = name
	r.ids[name] = sid
	if sid > r.lastSymbol {
		r.lastSymbol = sid
	}
}

// SymbolName returns the name of sid, "<null>" for 0 and "<?>" if unknown.
func (r *SymbolRegistry) SymbolName(sid int) string {
	if sid == 0 {
		return "<null>"
	}
	if name, ok := r.Lookup(sid); ok {
		return name
	}
	return "<?>"
}

// Lookup returns the name of sid.
func (r *SymbolRegistry) Lookup(sid int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[sid]
	return name, ok
}

// HasSymbol reports whether sid is defined.
func (r *SymbolRegistry) HasSymbol(sid int) bool {
	_, ok := r.Lookup(sid)
	return ok
}

// MethodID returns the ID of the (class, method, signature) triple,
// interning it on first use.
func (r *SymbolRegistry) MethodID(classID, methodID, signatureID int) int {
	def := MethodDef{ClassID: classID, MethodID: methodID, SignatureID: signatureID}

	r.mu.RLock()
	mid, ok := r.mids[def]
	r.mu.RUnlock()
	if ok {
		return mid
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mid, ok := r.mids[def]; ok {
		return mid
	}
	r.lastMethod++
	r.methods[r.lastMethod] = def
	r.mids[def] = r.lastMethod
	return r.lastMethod
}

// PutMethod records a method triple under an externally assigned ID.
func (r *SymbolRegistry) PutMethod(mid int, def MethodDef) {
	if mid <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.methods[mid]; ok && old != def {
		delete(r.mids, old)
	}
	r.methods[mid] = def
	r.mids[def] = mid
	if mid > r.lastMethod {
		r.lastMethod = mid
	}
}

// MethodDef returns the triple registered under mid.
func (r *SymbolRegistry) MethodDef(mid int) (MethodDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.methods[mid]
	return def, ok
}

// HasMethod reports whether mid is defined.
func (r *SymbolRegistry) HasMethod(mid int) bool {
	_, ok := r.MethodDef(mid)
	return ok
}

// MethodDesc renders mid as "Class.method()" for logs and trees.
func (r *SymbolRegistry) MethodDesc(mid int) string {
	def, ok := r.MethodDef(mid)
	if !ok {
		return "<?>"
	}
	return r.SymbolName(def.ClassID) + "." + r.SymbolName(def.MethodID) + "()"
}

// Size returns the number of symbols and methods defined.
func (r *SymbolRegistry) Size() (symbols, methods int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names), len(r.methods)
}

// Reset forgets every symbol and method.
func (r *SymbolRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
}
