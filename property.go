package memgraph

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
)

type (
	// LabelID is the interned id of a vertex label name.
	LabelID uint32

	// EdgeTypeID is the interned id of an edge type name.
	EdgeTypeID uint32

	// PropertyID is the interned id of a property name.
	PropertyID uint32

	// PropertyType enumerates the kinds a PropertyValue can hold.
	PropertyType uint8

	// PropertyValue encapsulates a value and its type without compile-time knowledge of the
	// type. Accessing it as the wrong kind fails with ErrTypeMismatch.
	PropertyValue struct {
		propertyType PropertyType

		boolV   bool
		intV    int64
		doubleV float64
		stringV string
		listV   []PropertyValue
		mapV    map[string]PropertyValue
	}

	// PropertyMap is the property store of a single record version.
	PropertyMap map[PropertyID]PropertyValue
)

const (
	PropertyNull PropertyType = iota
	PropertyBool
	PropertyInt
	PropertyDouble
	PropertyString
	PropertyList
	PropertyMapped
)

// NullValue returns the null property value.
func NullValue() PropertyValue {
	return PropertyValue{propertyType: PropertyNull}
}

// BoolValue wraps a bool.
func BoolValue(value bool) PropertyValue {
	return PropertyValue{propertyType: PropertyBool, boolV: value}
}

// IntValue wraps an int64.
func IntValue(value int64) PropertyValue {
	return PropertyValue{propertyType: PropertyInt, intV: value}
}

// DoubleValue wraps a float64.
func DoubleValue(value float64) PropertyValue {
	return PropertyValue{propertyType: PropertyDouble, doubleV: value}
}

// StringValue wraps a string.
func StringValue(value string) PropertyValue {
	return PropertyValue{propertyType: PropertyString, stringV: value}
}

// ListValue wraps a list of property values.
func ListValue(value []PropertyValue) PropertyValue {
	return PropertyValue{propertyType: PropertyList, listV: value}
}

// MapValue wraps a string-keyed map of property values.
func MapValue(value map[string]PropertyValue) PropertyValue {
	return PropertyValue{propertyType: PropertyMapped, mapV: value}
}

// Type returns the kind this value holds.
func (v PropertyValue) Type() PropertyType {
	return v.propertyType
}

// IsNull reports whether the value is null.
func (v PropertyValue) IsNull() bool {
	return v.propertyType == PropertyNull
}

// Bool returns the wrapped bool.
func (v PropertyValue) Bool() (bool, error) {
	if v.propertyType != PropertyBool {
		return false, errors.Wrap(ErrTypeMismatch, "value is not a bool")
	}
	return v.boolV, nil
}

// Int returns the wrapped integer.
func (v PropertyValue) Int() (int64, error) {
	if v.propertyType != PropertyInt {
		return 0, errors.Wrap(ErrTypeMismatch, "value is not an int")
	}
	return v.intV, nil
}

// Double returns the wrapped float.
func (v PropertyValue) Double() (float64, error) {
	if v.propertyType != PropertyDouble {
		return 0, errors.Wrap(ErrTypeMismatch, "value is not a double")
	}
	return v.doubleV, nil
}

// String returns the wrapped string.
func (v PropertyValue) String() (string, error) {
	if v.propertyType != PropertyString {
		return "", errors.Wrap(ErrTypeMismatch, "value is not a string")
	}
	return v.stringV, nil
}

// List returns the wrapped list.
func (v PropertyValue) List() ([]PropertyValue, error) {
	if v.propertyType != PropertyList {
		return nil, errors.Wrap(ErrTypeMismatch, "value is not a list")
	}
	return v.listV, nil
}

// Map returns the wrapped map.
func (v PropertyValue) Map() (map[string]PropertyValue, error) {
	if v.propertyType != PropertyMapped {
		return nil, errors.Wrap(ErrTypeMismatch, "value is not a map")
	}
	return v.mapV, nil
}

// Equal reports deep equality of two property values, including their types.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.propertyType != other.propertyType {
		return false
	}
	switch v.propertyType {
	case PropertyNull:
		return true
	case PropertyBool:
		return v.boolV == other.boolV
	case PropertyInt:
		return v.intV == other.intV
	case PropertyDouble:
		return v.doubleV == other.doubleV
	case PropertyString:
		return v.stringV == other.stringV
	case PropertyList:
		if len(v.listV) != len(other.listV) {
			return false
		}
		for i := range v.listV {
			if !v.listV[i].Equal(other.listV[i]) {
				return false
			}
		}
		return true
	case PropertyMapped:
		if len(v.mapV) != len(other.mapV) {
			return false
		}
		for key, value := range v.mapV {
			otherValue, ok := other.mapV[key]
			if !ok || !value.Equal(otherValue) {
				return false
			}
		}
		return true
	}
	return false
}

// marshal encodes the value as a type tag followed by a kind-specific payload. This is the
// wire encoding of property values in deltas.
func (v PropertyValue) marshal() []byte {
	buf := []byte{uint8(v.propertyType)}
	switch v.propertyType {
	case PropertyNull:
	case PropertyBool:
		if v.boolV {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case PropertyInt:
		var scratch [8]byte
		binary.BigEndian.PutUint64(scratch[:], uint64(v.intV))
		buf = append(buf, scratch[:]...)
	case PropertyDouble:
		var scratch [8]byte
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(v.doubleV))
		buf = append(buf, scratch[:]...)
	case PropertyString:
		var scratch [4]byte
		binary.BigEndian.PutUint32(scratch[:], uint32(len(v.stringV)))
		buf = append(buf, scratch[:]...)
		buf = append(buf, v.stringV...)
	case PropertyList:
		var scratch [4]byte
		binary.BigEndian.PutUint32(scratch[:], uint32(len(v.listV)))
		buf = append(buf, scratch[:]...)
		for _, element := range v.listV {
			buf = append(buf, element.marshal()...)
		}
	case PropertyMapped:
		var scratch [4]byte
		binary.BigEndian.PutUint32(scratch[:], uint32(len(v.mapV)))
		buf = append(buf, scratch[:]...)

		// Encode keys in sorted order so the encoding is deterministic.
		keys := make([]string, 0, len(v.mapV))
		for key := range v.mapV {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			binary.BigEndian.PutUint32(scratch[:], uint32(len(key)))
			buf = append(buf, scratch[:]...)
			buf = append(buf, key...)
			buf = append(buf, v.mapV[key].marshal()...)
		}
	}
	return buf
}

// unmarshalPropertyValue decodes one value from the front of src, returning the value and the
// number of bytes consumed.
func unmarshalPropertyValue(src []byte) (PropertyValue, int, error) {
	if len(src) < 1 {
		return PropertyValue{}, 0, errors.New("property value is missing its type tag")
	}

	propertyType := PropertyType(src[0])
	offset := 1

	switch propertyType {
	case PropertyNull:
		return NullValue(), offset, nil
	case PropertyBool:
		if len(src) < offset+1 {
			return PropertyValue{}, 0, errors.New("property value bool payload truncated")
		}
		return BoolValue(src[offset] != 0), offset + 1, nil
	case PropertyInt:
		if len(src) < offset+8 {
			return PropertyValue{}, 0, errors.New("property value int payload truncated")
		}
		return IntValue(int64(binary.BigEndian.Uint64(src[offset : offset+8]))), offset + 8, nil
	case PropertyDouble:
		if len(src) < offset+8 {
			return PropertyValue{}, 0, errors.New("property value double payload truncated")
		}
		bits := binary.BigEndian.Uint64(src[offset : offset+8])
		return DoubleValue(math.Float64frombits(bits)), offset + 8, nil
	case PropertyString:
		if len(src) < offset+4 {
			return PropertyValue{}, 0, errors.New("property value string length truncated")
		}
		length := int(binary.BigEndian.Uint32(src[offset : offset+4]))
		offset += 4
		if len(src) < offset+length {
			return PropertyValue{}, 0, errors.New("property value string payload truncated")
		}
		return StringValue(string(src[offset : offset+length])), offset + length, nil
	case PropertyList:
		if len(src) < offset+4 {
			return PropertyValue{}, 0, errors.New("property value list length truncated")
		}
		count := int(binary.BigEndian.Uint32(src[offset : offset+4]))
		offset += 4
		elements := make([]PropertyValue, count)
		for i := 0; i < count; i++ {
			element, consumed, err := unmarshalPropertyValue(src[offset:])
			if err != nil {
				return PropertyValue{}, 0, err
			}
			elements[i] = element
			offset += consumed
		}
		return ListValue(elements), offset, nil
	case PropertyMapped:
		if len(src) < offset+4 {
			return PropertyValue{}, 0, errors.New("property value map length truncated")
		}
		count := int(binary.BigEndian.Uint32(src[offset : offset+4]))
		offset += 4
		mapped := make(map[string]PropertyValue, count)
		for i := 0; i < count; i++ {
			if len(src) < offset+4 {
				return PropertyValue{}, 0, errors.New("property value map key length truncated")
			}
			keyLength := int(binary.BigEndian.Uint32(src[offset : offset+4]))
			offset += 4
			if len(src) < offset+keyLength {
				return PropertyValue{}, 0, errors.New("property value map key truncated")
			}
			key := string(src[offset : offset+keyLength])
			offset += keyLength

			element, consumed, err := unmarshalPropertyValue(src[offset:])
			if err != nil {
				return PropertyValue{}, 0, err
			}
			mapped[key] = element
			offset += consumed
		}
		return MapValue(mapped), offset, nil
	}

	return PropertyValue{}, 0, errors.Wrapf(ErrTypeMismatch, "unknown property type tag %d", propertyType)
}

// clone returns an independent copy of the property map. Values are immutable once stored, so a
// shallow copy of the entries is enough.
func (m PropertyMap) clone() PropertyMap {
	out := make(PropertyMap, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}
