package walpool

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Func is a user-defined SQL scalar function.
//
// Impl must be a Go func whose parameter and result types the driver can
// bind (integers, floats, bool, string, []byte, or any; plus an optional
// trailing error result). A variadic Impl registers for any argument count.
type Func struct {
	// Name is the function's SQL name.
	Name string

	// Impl is the Go implementation.
	Impl any

	// Pure marks the function deterministic: same arguments, same result.
	// The engine may then use it in indexes and constant-fold it.
	Pure bool
}

// Collation is a user-defined string ordering usable in COLLATE clauses.
type Collation struct {
	// Name is the collation's SQL name.
	Name string

	// Cmp reports -1, 0 or 1 for a < b, a == b, a > b.
	Cmp func(a, b string) int
}

// funcKey is a function's identity: the engine resolves calls by name and
// argument count, so both participate.
type funcKey struct {
	name  string
	nArgs int
}

// registry is the shared set of active functions and collations. Adding an
// entry whose identity matches an existing one replaces it, so at most one
// definition per identity is ever active.
//
// The registry is consulted live: the reader factory applies its full
// current contents at each connection's construction time, never a snapshot
// captured earlier. It must therefore tolerate concurrent mutation and
// application.
type registry struct {
	mu         sync.Mutex
	funcs      map[funcKey]Func
	collations map[string]Collation
}

func newRegistry() *registry {
	return &registry{
		funcs:      make(map[funcKey]Func),
		collations: make(map[string]Collation),
	}
}

// funcArity derives a function identity's argument count from its Go
// implementation. Variadic implementations register for any count (-1).
func funcArity(impl any) (int, error) {
	t := reflect.TypeOf(impl)
	if t == nil || t.Kind() != reflect.Func {
		return 0, errors.New("function implementation must be a Go func")
	}
	if t.IsVariadic() {
		return -1, nil
	}
	return t.NumIn(), nil
}

// validateFunc checks a definition before it is handed to any connection.
// The driver panics on a nil Impl rather than rejecting it, so this must
// run first.
func validateFunc(f Func) error {
	if f.Name == "" {
		return errors.New("function name must not be empty")
	}
	_, err := funcArity(f.Impl)
	return err
}

// validateCollation checks a definition before it is handed to any
// connection. The driver accepts a nil comparator and crashes on first use,
// so this must run first.
func validateCollation(col Collation) error {
	if col.Name == "" {
		return errors.New("collation name must not be empty")
	}
	if col.Cmp == nil {
		return errors.New("collation comparator must not be nil")
	}
	return nil
}

func (r *registry) addFunc(f Func) error {
	if err := validateFunc(f); err != nil {
		return err
	}
	nArgs, err := funcArity(f.Impl)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.funcs[funcKey{f.Name, nArgs}] = f
	r.mu.Unlock()
	return nil
}

func (r *registry) removeFunc(name string, nArgs int) {
	r.mu.Lock()
	delete(r.funcs, funcKey{name, nArgs})
	r.mu.Unlock()
}

func (r *registry) addCollation(col Collation) error {
	if err := validateCollation(col); err != nil {
		return err
	}
	r.mu.Lock()
	r.collations[col.Name] = col
	r.mu.Unlock()
	return nil
}

func (r *registry) removeCollation(name string) {
	r.mu.Lock()
	delete(r.collations, name)
	r.mu.Unlock()
}

// applyAll registers the registry's full current contents on conn. Called
// by the reader factory before a new connection serves any request.
func (r *registry) applyAll(conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.funcs {
		if err := conn.registerFunc(f); err != nil {
			return err
		}
	}
	for _, col := range r.collations {
		if err := conn.registerCollation(col); err != nil {
			return err
		}
	}
	return nil
}

var (
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
	errType   = reflect.TypeOf((*error)(nil)).Elem()
	stringTyp = reflect.TypeOf("")
)

// tombstoneFunc builds a replacement implementation for a removed function.
//
// The driver can register functions on a live connection but cannot
// unregister them, so removal installs an implementation of the same
// identity that fails every call with the engine's own missing-function
// message. Connections constructed after the removal never see the function
// at all.
func tombstoneFunc(name string, nArgs int) Func {
	var in []reflect.Type
	variadic := nArgs < 0
	if variadic {
		in = []reflect.Type{reflect.SliceOf(anyType)}
	} else {
		for i := 0; i < nArgs; i++ {
			in = append(in, anyType)
		}
	}
	callErr := fmt.Errorf("no such function: %s", name)
	impl := reflect.MakeFunc(
		reflect.FuncOf(in, []reflect.Type{stringTyp, errType}, variadic),
		func([]reflect.Value) []reflect.Value {
			return []reflect.Value{reflect.Zero(stringTyp), reflect.ValueOf(callErr)}
		},
	)
	return Func{Name: name, Impl: impl.Interface(), Pure: true}
}
