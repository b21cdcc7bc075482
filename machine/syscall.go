// Copyright 2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package machine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/offchainlabs/gojit/gostack"
)

// The bindings below decode the same frames the standard js loader
// does, slot for slot. Errors returned here are infrastructure faults
// and abort the session; anything a javascript runtime would surface as
// an exception instead takes the catch path of its call frame.

func loadString(frame *gostack.Stack, slot uint64) (string, error) {
	data, err := frame.ReadSlice(frame.ReadU64(slot), frame.ReadU64(slot+1))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (js *jsEnv) loadValueSlice(frame *gostack.Stack, slot uint64) ([]jsValue, error) {
	ptr := frame.ReadU64(slot)
	count := frame.ReadU64(slot + 1)
	if count > math.MaxUint32 {
		return nil, fmt.Errorf("js: absurd value slice length %v", count)
	}
	data, err := frame.ReadSlice(ptr, 8*count)
	if err != nil {
		return nil, err
	}
	values := make([]jsValue, count)
	for i := range values {
		values[i] = js.loadValue(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return values, nil
}

func thrownValue(err error) jsValue {
	if thrown, ok := err.(*jsError); ok {
		return thrown.value
	}
	return &jsObject{name: "error", props: map[string]jsValue{
		"message": err.Error(),
	}}
}

func (js *jsEnv) valueGet(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 4, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	name, err := loadString(frame, 1)
	if err != nil {
		return err
	}
	prop, err := js.getProperty(target, name)
	if err != nil {
		return err
	}
	frame.WriteU64(3, js.storeValue(prop))
	return nil
}

func (js *jsEnv) valueSet(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 4, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	name, err := loadString(frame, 1)
	if err != nil {
		return err
	}
	return js.setProperty(target, name, js.loadValue(frame.ReadU64(3)))
}

func (js *jsEnv) valueDelete(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	name, err := loadString(frame, 1)
	if err != nil {
		return err
	}
	if obj, ok := target.(*jsObject); ok {
		delete(obj.props, name)
	}
	return nil
}

func (js *jsEnv) valueIndex(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	index := frame.ReadU64(1)
	var result jsValue = jsUndefined{}
	switch target := target.(type) {
	case *jsArray:
		if index < uint64(len(target.elems)) {
			result = target.elems[index]
		}
	case *jsUint8Array:
		if index < uint64(len(target.data)) {
			result = float64(target.data[index])
		}
	default:
		return fmt.Errorf("js: cannot index %v", describe(target))
	}
	frame.WriteU64(2, js.storeValue(result))
	return nil
}

func (js *jsEnv) valueSetIndex(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	index := frame.ReadU64(1)
	value := js.loadValue(frame.ReadU64(2))
	switch target := target.(type) {
	case *jsArray:
		for uint64(len(target.elems)) <= index {
			target.elems = append(target.elems, jsUndefined{})
		}
		target.elems[index] = value
	case *jsUint8Array:
		num, ok := value.(float64)
		if !ok || index >= uint64(len(target.data)) {
			return fmt.Errorf("js: bad Uint8Array store at %v", index)
		}
		target.data[index] = byte(num)
	default:
		return fmt.Errorf("js: cannot index %v", describe(target))
	}
	return nil
}

func (js *jsEnv) valueCall(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 8, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	name, err := loadString(frame, 1)
	if err != nil {
		return err
	}
	args, err := js.loadValueSlice(frame, 3)
	if err != nil {
		return err
	}
	result, callErr := func() (jsValue, error) {
		method, err := js.getProperty(target, name)
		if err != nil {
			return nil, err
		}
		fn, ok := method.(*jsFunction)
		if !ok {
			return nil, fmt.Errorf("js: %v.%v is not a function", describe(target), name)
		}
		return js.invoke(fn, target, args)
	}()
	if callErr != nil {
		frame.WriteU64(6, js.storeValue(thrownValue(callErr)))
		frame.WriteU8(7, 0)
		return nil
	}
	frame.WriteU64(6, js.storeValue(result))
	frame.WriteU8(7, 1)
	return nil
}

func (js *jsEnv) valueInvoke(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 6, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	args, err := js.loadValueSlice(frame, 1)
	if err != nil {
		return err
	}
	result, callErr := func() (jsValue, error) {
		fn, ok := target.(*jsFunction)
		if !ok {
			return nil, fmt.Errorf("js: %v is not a function", describe(target))
		}
		return js.invoke(fn, jsUndefined{}, args)
	}()
	if callErr != nil {
		frame.WriteU64(4, js.storeValue(thrownValue(callErr)))
		frame.WriteU8(5, 0)
		return nil
	}
	frame.WriteU64(4, js.storeValue(result))
	frame.WriteU8(5, 1)
	return nil
}

func (js *jsEnv) valueNew(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 6, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	args, err := js.loadValueSlice(frame, 1)
	if err != nil {
		return err
	}
	result, callErr := js.construct(target, args)
	if callErr != nil {
		frame.WriteU64(4, js.storeValue(thrownValue(callErr)))
		frame.WriteU8(5, 0)
		return nil
	}
	frame.WriteU64(4, js.storeValue(result))
	frame.WriteU8(5, 1)
	return nil
}

func (js *jsEnv) valueLength(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 2, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	var length int
	switch target := target.(type) {
	case *jsArray:
		length = len(target.elems)
	case *jsUint8Array:
		length = len(target.data)
	case string:
		length = len(target)
	default:
		return fmt.Errorf("js: %v has no length", describe(target))
	}
	frame.WriteU64(1, uint64(length))
	return nil
}

func (js *jsEnv) valuePrepareString(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	encoded := []byte(coerceString(js.loadValue(frame.ReadU64(0))))
	frame.WriteU64(1, js.storeValue(&jsUint8Array{data: encoded}))
	frame.WriteU64(2, uint64(len(encoded)))
	return nil
}

func (js *jsEnv) valueLoadString(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 4, mem)
	if err != nil {
		return err
	}
	encoded, ok := js.loadValue(frame.ReadU64(0)).(*jsUint8Array)
	if !ok {
		return fmt.Errorf("js: loading string from a non-buffer")
	}
	dstPtr := frame.ReadU64(1)
	dstLen := frame.ReadU64(2)
	n := uint64(len(encoded.data))
	if dstLen < n {
		n = dstLen
	}
	return frame.WriteSlice(dstPtr, encoded.data[:n])
}

func (js *jsEnv) stringVal(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	str, err := loadString(frame, 0)
	if err != nil {
		return err
	}
	frame.WriteU64(2, js.storeValue(str))
	return nil
}

func (js *jsEnv) valueInstanceOf(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 3, mem)
	if err != nil {
		return err
	}
	target := js.loadValue(frame.ReadU64(0))
	class := js.loadValue(frame.ReadU64(1))
	result := uint8(0)
	if _, ok := target.(*jsUint8Array); ok && class == js.global.props["Uint8Array"] {
		result = 1
	}
	frame.WriteU8(2, result)
	return nil
}

func (js *jsEnv) copyBytesToGo(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 6, mem)
	if err != nil {
		return err
	}
	dstPtr := frame.ReadU64(0)
	dstLen := frame.ReadU64(1)
	src, ok := js.loadValue(frame.ReadU64(3)).(*jsUint8Array)
	if !ok {
		frame.WriteU8(5, 0)
		return nil
	}
	n := uint64(len(src.data))
	if dstLen < n {
		n = dstLen
	}
	if err := frame.WriteSlice(dstPtr, src.data[:n]); err != nil {
		return err
	}
	frame.WriteU64(4, n)
	frame.WriteU8(5, 1)
	return nil
}

func (js *jsEnv) copyBytesToJS(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 6, mem)
	if err != nil {
		return err
	}
	dst, ok := js.loadValue(frame.ReadU64(0)).(*jsUint8Array)
	if !ok {
		frame.WriteU8(5, 0)
		return nil
	}
	srcPtr := frame.ReadU64(1)
	srcLen := frame.ReadU64(2)
	n := uint64(len(dst.data))
	if srcLen < n {
		n = srcLen
	}
	data, err := frame.ReadSlice(srcPtr, n)
	if err != nil {
		return err
	}
	copy(dst.data, data)
	frame.WriteU64(4, n)
	frame.WriteU8(5, 1)
	return nil
}

func (js *jsEnv) finalizeRef(sp uint32, mem gostack.Memory) error {
	frame, err := gostack.NewStack(sp, 1, mem)
	if err != nil {
		return err
	}
	js.finalize(frame.ReadU32(0))
	return nil
}
