// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package machine

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
)

// The replay binary is compiled for js/wasm, so it boots expecting a
// javascript world on the far side of its imports. jsEnv is the sliver
// of that world the binary actually touches: a handful of globals, fs
// writes to stdout and stderr, wrapped go callbacks, and deterministic
// sources for time and randomness.
//
// Values cross the ABI as NaN-boxed 64-bit words. Numbers travel as
// their float64 bits, everything else as a NaN with a type flag and an
// id into the value table.

const nanHead = 0x7FF80000

// Each nanotime read advances the deterministic clock by this much.
const timeInterval = 10_000_000

// Seed for the deterministic stream behind getRandomData.
const randomSeed = 42

type jsValue = interface{}

type jsUndefined struct{}

type jsNull struct{}

type jsObject struct {
	name  string
	props map[string]jsValue
}

type jsArray struct {
	elems []jsValue
}

type jsUint8Array struct {
	data []byte
}

type jsFunction struct {
	name string
	fn   func(this jsValue, args []jsValue) (jsValue, error)
	ctor func(args []jsValue) (jsValue, error)

	// wrapped go callbacks do not run directly, they queue an event
	// the guest's handler picks up on resume
	wrapper   bool
	wrapperID uint32
}

// jsError carries a thrown value back to the guest as an exception
// rather than failing the host call.
type jsError struct {
	value jsValue
}

func (e *jsError) Error() string {
	if obj, ok := e.value.(*jsObject); ok {
		if msg, ok := obj.props["message"].(string); ok {
			return msg
		}
	}
	return "js exception"
}

func enosysError() *jsObject {
	return &jsObject{name: "error", props: map[string]jsValue{
		"message": "not implemented",
		"code":    "ENOSYS",
	}}
}

type timeoutEvent struct {
	id       uint32
	deadline int64
}

type jsEnv struct {
	values    []jsValue
	refCounts []uint32
	ids       map[jsValue]uint32
	idPool    []uint32

	global *jsObject
	goObj  *jsObject

	events        []*jsObject
	timeouts      []timeoutEvent
	nextTimeoutID uint32

	clock int64
	rng   *rand.Rand

	stdout io.Writer
	stderr io.Writer
}

func newJsEnv(stdout, stderr io.Writer) *jsEnv {
	js := &jsEnv{
		ids:    make(map[jsValue]uint32),
		rng:    rand.New(rand.NewSource(randomSeed)),
		stdout: stdout,
		stderr: stderr,
	}

	returnMinusOne := func(jsValue, []jsValue) (jsValue, error) {
		return float64(-1), nil
	}
	throwEnosys := func(jsValue, []jsValue) (jsValue, error) {
		return nil, &jsError{value: enosysError()}
	}

	constants := &jsObject{name: "constants", props: map[string]jsValue{
		"O_WRONLY": float64(-1),
		"O_RDWR":   float64(-1),
		"O_CREAT":  float64(-1),
		"O_TRUNC":  float64(-1),
		"O_APPEND": float64(-1),
		"O_EXCL":   float64(-1),
	}}
	fs := &jsObject{name: "fs", props: map[string]jsValue{
		"constants": constants,
		"write": &jsFunction{name: "write", fn: func(_ jsValue, args []jsValue) (jsValue, error) {
			return js.fsWrite(args)
		}},
	}}
	process := &jsObject{name: "process", props: map[string]jsValue{
		"getuid":    &jsFunction{name: "getuid", fn: returnMinusOne},
		"getgid":    &jsFunction{name: "getgid", fn: returnMinusOne},
		"geteuid":   &jsFunction{name: "geteuid", fn: returnMinusOne},
		"getegid":   &jsFunction{name: "getegid", fn: returnMinusOne},
		"getgroups": &jsFunction{name: "getgroups", fn: throwEnosys},
		"pid":       float64(-1),
		"ppid":      float64(-1),
		"umask":     &jsFunction{name: "umask", fn: throwEnosys},
		"cwd":       &jsFunction{name: "cwd", fn: throwEnosys},
		"chdir":     &jsFunction{name: "chdir", fn: throwEnosys},
	}}
	object := &jsFunction{name: "Object", ctor: func([]jsValue) (jsValue, error) {
		return &jsObject{name: "object", props: make(map[string]jsValue)}, nil
	}}
	array := &jsFunction{name: "Array", ctor: func([]jsValue) (jsValue, error) {
		return &jsArray{}, nil
	}}
	uint8Array := &jsFunction{name: "Uint8Array", ctor: func(args []jsValue) (jsValue, error) {
		if len(args) == 0 {
			return &jsUint8Array{}, nil
		}
		size, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("unsupported Uint8Array constructor argument %v", args[0])
		}
		return &jsUint8Array{data: make([]byte, int(size))}, nil
	}}
	date := &jsFunction{name: "Date", ctor: func([]jsValue) (jsValue, error) {
		return &jsObject{name: "date", props: map[string]jsValue{
			"getTimezoneOffset": &jsFunction{name: "getTimezoneOffset", fn: func(jsValue, []jsValue) (jsValue, error) {
				return float64(0), nil
			}},
		}}, nil
	}}

	js.global = &jsObject{name: "global", props: map[string]jsValue{
		"Object":     object,
		"Array":      array,
		"process":    process,
		"fs":         fs,
		"Uint8Array": uint8Array,
		"Date":       date,
	}}
	js.goObj = &jsObject{name: "go", props: map[string]jsValue{
		"_pendingEvent": jsNull{},
		"_makeFuncWrapper": &jsFunction{name: "_makeFuncWrapper", fn: func(_ jsValue, args []jsValue) (jsValue, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("_makeFuncWrapper takes one argument, got %v", len(args))
			}
			id, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("non-numeric func wrapper id %v", args[0])
			}
			return &jsFunction{name: "wrappedFunc", wrapper: true, wrapperID: uint32(id)}, nil
		}},
	}}

	js.values = []jsValue{math.NaN(), float64(0), jsNull{}, true, false, js.global, js.goObj}
	js.refCounts = make([]uint32, len(js.values))
	for i := range js.refCounts {
		js.refCounts[i] = math.MaxUint32
	}
	js.ids[float64(0)] = 1
	js.ids[jsNull{}] = 2
	js.ids[true] = 3
	js.ids[false] = 4
	js.ids[js.global] = 5
	js.ids[js.goObj] = 6
	return js
}

func (js *jsEnv) loadValue(bits uint64) jsValue {
	f := math.Float64frombits(bits)
	if f == 0 {
		return jsUndefined{}
	}
	if !math.IsNaN(f) {
		return f
	}
	id := uint32(bits)
	if int(id) >= len(js.values) || js.values[id] == nil {
		return jsUndefined{}
	}
	return js.values[id]
}

func (js *jsEnv) storeValue(v jsValue) uint64 {
	if n, ok := v.(float64); ok && n != 0 {
		if math.IsNaN(n) {
			return uint64(nanHead) << 32
		}
		return math.Float64bits(n)
	}
	if _, ok := v.(jsUndefined); ok {
		return 0
	}
	id, ok := js.ids[v]
	if !ok {
		if n := len(js.idPool); n > 0 {
			id = js.idPool[n-1]
			js.idPool = js.idPool[:n-1]
			js.values[id] = v
		} else {
			id = uint32(len(js.values))
			js.values = append(js.values, v)
			js.refCounts = append(js.refCounts, 0)
		}
		js.ids[v] = id
	}
	// predefined values sit at the max count and are never collected
	if js.refCounts[id] != math.MaxUint32 {
		js.refCounts[id]++
	}
	typeFlag := uint64(0)
	switch v.(type) {
	case *jsObject, *jsArray, *jsUint8Array:
		typeFlag = 1
	case string:
		typeFlag = 2
	case *jsFunction:
		typeFlag = 4
	}
	return (uint64(nanHead)|typeFlag)<<32 | uint64(id)
}

func (js *jsEnv) finalize(id uint32) {
	if int(id) >= len(js.refCounts) {
		return
	}
	count := js.refCounts[id]
	if count == 0 || count == math.MaxUint32 {
		return
	}
	js.refCounts[id]--
	if js.refCounts[id] == 0 {
		v := js.values[id]
		js.values[id] = nil
		delete(js.ids, v)
		js.idPool = append(js.idPool, id)
	}
}

func (js *jsEnv) getProperty(v jsValue, name string) (jsValue, error) {
	switch v := v.(type) {
	case *jsObject:
		prop, ok := v.props[name]
		if !ok {
			return jsUndefined{}, nil
		}
		return prop, nil
	case *jsArray:
		if name == "length" {
			return float64(len(v.elems)), nil
		}
	case *jsUint8Array:
		if name == "length" {
			return float64(len(v.data)), nil
		}
	}
	return nil, fmt.Errorf("js: cannot read property %q of %v", name, describe(v))
}

func (js *jsEnv) setProperty(v jsValue, name string, value jsValue) error {
	obj, ok := v.(*jsObject)
	if !ok {
		return fmt.Errorf("js: cannot set property %q of %v", name, describe(v))
	}
	obj.props[name] = value
	return nil
}

// invoke runs a function, or queues a wrapped go callback as a pending
// event for the guest to handle on its next resume.
func (js *jsEnv) invoke(fn *jsFunction, this jsValue, args []jsValue) (jsValue, error) {
	if fn.wrapper {
		js.queueEvent(fn.wrapperID, args)
		return jsUndefined{}, nil
	}
	if fn.fn == nil {
		return nil, fmt.Errorf("js: %v is not callable", fn.name)
	}
	return fn.fn(this, args)
}

func (js *jsEnv) construct(v jsValue, args []jsValue) (jsValue, error) {
	fn, ok := v.(*jsFunction)
	if !ok || fn.ctor == nil {
		return nil, fmt.Errorf("js: %v is not a constructor", describe(v))
	}
	return fn.ctor(args)
}

func (js *jsEnv) queueEvent(id uint32, args []jsValue) {
	js.events = append(js.events, &jsObject{name: "event", props: map[string]jsValue{
		"id":   float64(id),
		"this": jsNull{},
		"args": &jsArray{elems: args},
	}})
}

// nextEvent exposes the oldest queued callback through go._pendingEvent.
// Reports whether the guest has an event to handle.
func (js *jsEnv) nextEvent() bool {
	if pending, ok := js.goObj.props["_pendingEvent"]; ok {
		if _, isNull := pending.(jsNull); !isNull {
			return true
		}
	}
	if len(js.events) == 0 {
		return false
	}
	js.goObj.props["_pendingEvent"] = js.events[0]
	js.events = js.events[1:]
	return true
}

func (js *jsEnv) fsWrite(args []jsValue) (jsValue, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("fs.write takes 6 arguments, got %v", len(args))
	}
	fd, _ := args[0].(float64)
	buf, okBuf := args[1].(*jsUint8Array)
	offset, _ := args[2].(float64)
	length, _ := args[3].(float64)
	_, positionNull := args[4].(jsNull)
	callback, okCallback := args[5].(*jsFunction)
	if !okBuf || !okCallback || !callback.wrapper {
		return nil, fmt.Errorf("unexpected fs.write arguments")
	}
	if !positionNull || offset != 0 || int(length) != len(buf.data) {
		js.queueEvent(callback.wrapperID, []jsValue{enosysError()})
		return jsUndefined{}, nil
	}
	var out io.Writer
	switch int(fd) {
	case 1:
		out = js.stdout
	case 2:
		out = js.stderr
	default:
		js.queueEvent(callback.wrapperID, []jsValue{enosysError()})
		return jsUndefined{}, nil
	}
	n, err := out.Write(buf.data)
	if err != nil {
		return nil, fmt.Errorf("writing guest fd %v: %w", int(fd), err)
	}
	js.queueEvent(callback.wrapperID, []jsValue{jsNull{}, float64(n)})
	return jsUndefined{}, nil
}

func (js *jsEnv) nanotime() int64 {
	js.clock += timeInterval
	return js.clock
}

func (js *jsEnv) scheduleTimeout(delayMillis int64) uint32 {
	js.nextTimeoutID++
	js.timeouts = append(js.timeouts, timeoutEvent{
		id:       js.nextTimeoutID,
		deadline: js.clock + delayMillis*1_000_000,
	})
	return js.nextTimeoutID
}

func (js *jsEnv) clearTimeout(id uint32) {
	for i, timer := range js.timeouts {
		if timer.id == id {
			js.timeouts = append(js.timeouts[:i], js.timeouts[i+1:]...)
			return
		}
	}
}

// fireTimeout jumps the clock to the earliest pending timeout, letting
// sleeping guests make progress without wall time passing. Reports
// whether one fired.
func (js *jsEnv) fireTimeout() bool {
	if len(js.timeouts) == 0 {
		return false
	}
	earliest := 0
	for i, timer := range js.timeouts {
		if timer.deadline < js.timeouts[earliest].deadline {
			earliest = i
		}
	}
	timer := js.timeouts[earliest]
	js.timeouts = append(js.timeouts[:earliest], js.timeouts[earliest+1:]...)
	if timer.deadline > js.clock {
		js.clock = timer.deadline
	}
	return true
}

// coerceString mirrors javascript's String() for the few types that can
// reach valuePrepareString.
func coerceString(v jsValue) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case jsNull:
		return "null"
	case jsUndefined:
		return "undefined"
	case *jsFunction:
		return "function " + v.name
	default:
		return "[object Object]"
	}
}

func describe(v jsValue) string {
	switch v := v.(type) {
	case jsUndefined:
		return "undefined"
	case jsNull:
		return "null"
	case *jsObject:
		return v.name
	case *jsFunction:
		return "function " + v.name
	case *jsArray:
		return "array"
	case *jsUint8Array:
		return "Uint8Array"
	default:
		return fmt.Sprintf("%v", v)
	}
}
